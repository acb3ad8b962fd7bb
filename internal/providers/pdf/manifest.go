package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// ManifestData is the printable view of a distribution batch.
type ManifestData struct {
	Title            string
	BatchID          string
	Status           string
	DistributionDate string
	CreatedBy        string
	ApprovedBy       string
	Notes            string
	CaseCount        int
	TotalSupplyItems int64

	Lines []ManifestLine
}

type ManifestLine struct {
	CaseID    string
	NeedID    string
	ItemName  string
	Unit      string
	Requested int64
	Collected int64
	Status    string
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateManifest(ctx context.Context, data ManifestData) (io.Reader, error) {
	if data.BatchID == "" {
		return nil, ErrInvalidManifest
	}
	title := data.Title
	if title == "" {
		title = "Distribution manifest"
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, title, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Batch: "+data.BatchID, props.Text{Top: 0}),
			text.New("Distribution date: "+data.DistributionDate, props.Text{Top: 5}),
			text.New("Status: "+data.Status, props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New("Created by: "+data.CreatedBy, props.Text{Top: 0}),
			text.New("Approved by: "+orDash(data.ApprovedBy), props.Text{Top: 5}),
			text.New(fmt.Sprintf("Cases: %d   Items: %d", data.CaseCount, data.TotalSupplyItems), props.Text{Top: 10}),
		),
	)

	if data.Notes != "" {
		m.AddRow(10,
			text.NewCol(12, data.Notes, props.Text{Size: 9, Style: fontstyle.Italic}),
		)
	}

	m.AddRow(10,
		text.NewCol(2, "Case", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Need", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Item", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(1, "Req.", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(1, "Coll.", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Status", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	for _, item := range data.Lines {
		name := item.ItemName
		if item.Unit != "" {
			name = fmt.Sprintf("%s (%s)", item.ItemName, item.Unit)
		}
		m.AddRow(8,
			text.NewCol(2, item.CaseID, props.Text{Size: 8}),
			text.NewCol(2, item.NeedID, props.Text{Size: 8}),
			text.NewCol(4, name, props.Text{Size: 8}),
			text.NewCol(1, fmt.Sprintf("%d", item.Requested), props.Text{Size: 8, Align: align.Right}),
			text.NewCol(1, fmt.Sprintf("%d", item.Collected), props.Text{Size: 8, Align: align.Right}),
			text.NewCol(2, item.Status, props.Text{Size: 8, Align: align.Right}),
		)
	}

	m.AddRow(2, line.NewCol(12))
	m.AddRow(20,
		col.New(6).Add(
			text.New("Received by (signature)", props.Text{Size: 9, Top: 12}),
		),
		col.New(6).Add(
			text.New("Distributed by (signature)", props.Text{Size: 9, Top: 12}),
		),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
