// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is shared by the workers that poll collaborator services.
var HTTPClient = &http.Client{
	Timeout: 15 * time.Second,
}
