package cli

import (
	"context"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/justapithecus/lakeload/lakeload"
	"github.com/justapithecus/lakeload/lakeload/s3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// writeJSON writes v as indented JSON followed by a newline.
func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// credentialsFor resolves credentials for a table URI. Local file tables
// need none, so resolution is skipped for them.
func credentialsFor(ctx context.Context, uri string) (lakeload.CredentialMap, error) {
	if loc, err := lakeload.ParseLocation(uri); err == nil && loc.Scheme == "file" {
		return nil, nil
	}
	resolver := lakeload.NewCredentialResolver(cfg.ResolverConfig(), lakeload.WithResolverLogger(logger))
	return resolver.Resolve(ctx)
}

// newLoader builds a loader from the loaded configuration with the S3
// backend registered. A non-empty selection overrides the configured one.
func newLoader(selection string) (*lakeload.Loader, error) {
	loaderCfg, err := cfg.LoaderConfig()
	if err != nil {
		return nil, err
	}
	if selection != "" {
		sel, err := lakeload.SelectionByName(selection)
		if err != nil {
			return nil, err
		}
		loaderCfg.Selection = sel
	}
	return lakeload.NewLoader(loaderCfg,
		lakeload.WithHandlers(s3.RegisterHandlers),
		lakeload.WithLogger(logger),
	)
}
