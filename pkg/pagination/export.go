package pagination

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RootElement wraps all collections of one export.
const RootElement = "export"

// Exporter aggregates one or more collections into a single document.
type Exporter struct {
	fetcher     *Fetcher
	collections []Collection
	logger      zerolog.Logger
}

// NewExporter exports the given collections, or Reviews when none are given.
func NewExporter(fetcher *Fetcher, collections ...Collection) *Exporter {
	if len(collections) == 0 {
		collections = []Collection{Reviews}
	}
	return &Exporter{
		fetcher:     fetcher,
		collections: collections,
		logger:      log.With().Str("component", "exporter").Logger(),
	}
}

// ExportXML fetches every collection and returns the aggregated document.
// Nothing is returned unless every collection was fetched completely.
func (e *Exporter) ExportXML(ctx context.Context) ([]byte, error) {
	sections := make([]section, 0, len(e.collections))
	for _, c := range e.collections {
		items, err := e.fetcher.FetchAll(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", c.Name, err)
		}
		sections = append(sections, section{name: c.Name, items: items})
	}

	var buf bytes.Buffer
	if err := writeDocument(&buf, sections); err != nil {
		return nil, err
	}

	e.logger.Info().
		Int("collections", len(sections)).
		Int("bytes", buf.Len()).
		Msg("Export document assembled")

	return buf.Bytes(), nil
}

type section struct {
	name  string
	items [][]byte
}

// writeDocument emits <export>, one element per section, one item per line.
func writeDocument(w io.Writer, sections []section) error {
	var buf bytes.Buffer
	buf.WriteString("<" + RootElement + ">\n")
	for _, s := range sections {
		buf.WriteString("<" + s.name + ">\n")
		for _, item := range s.items {
			buf.Write(item)
			buf.WriteByte('\n')
		}
		buf.WriteString("</" + s.name + ">\n")
	}
	buf.WriteString("</" + RootElement + ">\n")

	_, err := w.Write(buf.Bytes())
	return err
}
