package brain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/modinired/cesar-brain/internal/store"
)

// Export defaults: only knowledge- and wisdom-layer nodes at or above
// the mass threshold become training samples.
const (
	defaultExportMinMass = 20.0
	exportMinZIndex      = 200
	exportMaxNeighbors   = 5
)

// ReplaySample is one exported instruction/response training record.
type ReplaySample struct {
	Instruction   string   `json:"instruction"`
	Input         string   `json:"input"`
	Output        string   `json:"output"`
	SourceNodeIDs []string `json:"source_node_ids"`
	Layer         string   `json:"layer"`
	Confidence    float64  `json:"confidence"`
	ExportBatch   string   `json:"export_batch"`
}

// ExportReport is the outcome of one export run.
type ExportReport struct {
	SamplesWritten int `json:"samples_written"`
	Errors         int `json:"errors"`
}

// Exporter emits high-confidence knowledge as newline-delimited
// ReplaySamples. Given an identical graph snapshot and profile, output
// is byte-for-byte deterministic.
type Exporter struct {
	db      *store.DB
	minMass float64
	log     *slog.Logger
}

// NewExporter creates a ReplayExporter. minMass 0 means the default
// threshold.
func NewExporter(db *store.DB, minMass float64, log *slog.Logger) *Exporter {
	if minMass <= 0 {
		minMass = defaultExportMinMass
	}
	if log == nil {
		log = slog.Default()
	}
	return &Exporter{
		db:      db,
		minMass: minMass,
		log:     log.With("component", "replay_exporter"),
	}
}

// Run exports samples for one target profile as NDJSON to w. Nodes are
// visited in mass-descending, id-ascending order; neighbors in their
// ranked order. The same node legitimately phrases its samples
// differently per profile.
func (x *Exporter) Run(ctx context.Context, profile string, w io.Writer) (ExportReport, error) {
	var report ExportReport
	if profile == "" {
		return report, fmt.Errorf("profile is required: %w", ErrValidation)
	}

	q := x.db.Q()
	nodes, err := q.ListExportable(ctx, exportMinZIndex, x.minMass)
	if err != nil {
		return report, classify(err)
	}

	batch := batchID(profile, nodes)
	enc := json.NewEncoder(w)

	for _, n := range nodes {
		neighbors, err := q.ListNeighbors(ctx, n.ID, exportMaxNeighbors)
		if err != nil {
			x.log.Warn("neighbor walk failed", "node", n.ID, "error", err)
			report.Errors++
			continue
		}

		for _, sample := range samplesFor(n, neighbors, profile, batch) {
			if err := enc.Encode(sample); err != nil {
				report.Errors++
				return report, classify(err)
			}
			report.SamplesWritten++
		}
	}

	x.log.Info("export complete", "profile", profile, "batch", batch,
		"samples", report.SamplesWritten, "errors", report.Errors)
	return report, nil
}

// samplesFor builds one definition sample per node, plus a relation
// sample when the node has neighbors.
func samplesFor(n store.Node, neighbors []store.Neighbor, profile, batch string) []ReplaySample {
	confidence := n.Mass / store.MassCeil

	var output strings.Builder
	output.WriteString(n.Label)
	if n.Description != "" {
		output.WriteString(": ")
		output.WriteString(n.Description)
	}

	samples := []ReplaySample{{
		Instruction:   fmt.Sprintf("As the %s profile, explain the concept %q.", profile, n.Label),
		Input:         n.Label,
		Output:        output.String(),
		SourceNodeIDs: []string{n.ID},
		Layer:         n.Layer(),
		Confidence:    confidence,
		ExportBatch:   batch,
	}}

	if len(neighbors) == 0 {
		return samples
	}

	ids := []string{n.ID}
	var relations strings.Builder
	fmt.Fprintf(&relations, "%s relates to:\n", n.Label)
	for _, nb := range neighbors {
		fmt.Fprintf(&relations, "- %s (%s, strength %.2f)\n",
			nb.Node.Label, nb.LinkType, nb.Strength)
		ids = append(ids, nb.Node.ID)
	}

	samples = append(samples, ReplaySample{
		Instruction:   fmt.Sprintf("As the %s profile, describe how %q connects to related knowledge.", profile, n.Label),
		Input:         n.Label,
		Output:        relations.String(),
		SourceNodeIDs: ids,
		Layer:         n.Layer(),
		Confidence:    confidence,
		ExportBatch:   batch,
	})
	return samples
}

// batchID derives a deterministic batch tag from the profile and the
// ordered snapshot of exported node ids.
func batchID(profile string, nodes []store.Node) string {
	h := sha256.New()
	h.Write([]byte(profile))
	for _, n := range nodes {
		h.Write([]byte(n.ID))
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}
