package local

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

const utf8BOM = "\ufeff"

var linkColumns = []string{"url", "text", "title", "target", "rel"}

// WriteLinks writes links_<id>.csv: UTF-8 with BOM, every field quoted, header always present.
func (s *SessionStore) WriteLinks(_ context.Context, sessionID string, links []scraper.LinkRecord) (string, error) {
	sink, err := s.AssetSink(sessionID)
	if err != nil {
		return "", err
	}
	name := LinksFileName(sessionID)
	file, err := sink.Create(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", scraper.ErrStorageUnavailable, err)
	}
	if err := encodeLinks(file, links); err != nil {
		_ = file.Abort()
		return "", fmt.Errorf("%w: write %s: %v", scraper.ErrStorageUnavailable, name, err)
	}
	if _, err := file.Commit(); err != nil {
		return "", fmt.Errorf("%w: %v", scraper.ErrStorageUnavailable, err)
	}
	return name, nil
}

// encodeLinks quotes every field, which encoding/csv cannot be told to do.
func encodeLinks(w io.Writer, links []scraper.LinkRecord) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(utf8BOM); err != nil {
		return err
	}
	if err := writeQuotedRow(bw, linkColumns); err != nil {
		return err
	}
	for _, l := range links {
		if err := writeQuotedRow(bw, []string{l.URL, l.Text, l.Title, l.Target, l.Rel}); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeQuotedRow(w *bufio.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := w.WriteString(`"` + strings.ReplaceAll(f, `"`, `""`) + `"`); err != nil {
			return err
		}
	}
	_, err := w.WriteString("\r\n")
	return err
}
