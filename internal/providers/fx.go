package providers

import (
	"github.com/smallbiznis/needflow/internal/providers/pdf"
	"go.uber.org/fx"
)

// Module bundles the document renderers used by the distribution service.
var Module = fx.Module("providers",
	pdf.Module,
)
