package receipt

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

var disableConfigDir sync.Once

// BuildDocument embeds img in a single-page PDF sized to the image, so the
// scan keeps its native resolution.
func BuildDocument(img Image) (Document, error) {
	if len(img.Data) == 0 {
		return Document{}, fmt.Errorf("building document: empty image")
	}
	if img.Width <= 0 || img.Height <= 0 {
		return Document{}, fmt.Errorf("building document: invalid dimensions %dx%d", img.Width, img.Height)
	}

	// pdfcpu writes a config dir under $HOME by default
	disableConfigDir.Do(api.DisableConfigDir)

	imp := pdfcpu.DefaultImportConfig()
	imp.PageDim = &types.Dim{Width: float64(img.Width), Height: float64(img.Height)}
	imp.PageSize = ""
	imp.UserDim = true
	imp.Pos = types.Full

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	var buf bytes.Buffer
	if err := api.ImportImages(nil, &buf, []io.Reader{bytes.NewReader(img.Data)}, imp, conf); err != nil {
		return Document{}, fmt.Errorf("building document: %w", err)
	}
	return Document{Data: buf.Bytes()}, nil
}
