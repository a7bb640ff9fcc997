package services

import (
	"context"
	"fmt"

	"club-ladder/utils"
)

// SweepArchiver keeps a copy of every sweep summary outside the database.
type SweepArchiver interface {
	Archive(ctx context.Context, res *SweepResult) error
}

// R2SweepArchiver uploads summaries as JSON to the R2 bucket.
type R2SweepArchiver struct {
	Prefix string
}

func NewR2SweepArchiver() *R2SweepArchiver {
	return &R2SweepArchiver{Prefix: "sweeps"}
}

// ArchiveKey is the object key of a summary: <prefix>/<kind>/<date>/<time>.json
func ArchiveKey(prefix string, res *SweepResult) string {
	at := res.StartedAt.UTC()
	return fmt.Sprintf("%s/%s/%s/%s.json", prefix, res.Kind, at.Format("2006-01-02"), at.Format("150405"))
}

func (a *R2SweepArchiver) Archive(ctx context.Context, res *SweepResult) error {
	return utils.UploadJSONToR2(ctx, ArchiveKey(a.Prefix, res), res)
}
