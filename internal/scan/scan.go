// Package scan provides content scanners for uploaded blobs.
package scan

import (
	"context"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/haukened/vanish/internal/app"
)

var _ app.Scanner = (*MIMEPolicy)(nil)

// MIMEPolicy flags uploads whose detected content type is on a deny list.
// Entries match the detected type or any of its parents, so denying
// "application/zip" also catches formats built on zip.
type MIMEPolicy struct {
	deny []string
}

// NewMIMEPolicy returns a policy denying the given MIME types. Blank entries
// are ignored.
func NewMIMEPolicy(deny []string) *MIMEPolicy {
	p := &MIMEPolicy{}
	for _, d := range deny {
		if d = strings.TrimSpace(strings.ToLower(d)); d != "" {
			p.deny = append(p.deny, d)
		}
	}
	return p
}

// Scan detects the content type from the head of r.
func (p *MIMEPolicy) Scan(ctx context.Context, r io.Reader) (app.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return app.VerdictClean, err
	}
	if len(p.deny) == 0 {
		return app.VerdictClean, nil
	}
	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return app.VerdictClean, err
	}
	for m := mt; m != nil; m = m.Parent() {
		for _, d := range p.deny {
			if m.Is(d) {
				return app.VerdictFlagged, nil
			}
		}
	}
	return app.VerdictClean, nil
}
