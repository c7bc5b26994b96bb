package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gyeh/medicare-lookup/internal/npi"
	"github.com/gyeh/medicare-lookup/internal/resolver"
	"github.com/spf13/cobra"
)

type lookupOutput struct {
	*resolver.MatchResult
	Registry *npi.ProviderInfo `json:"registry,omitempty"`
}

func newLookupCmd(rf *rootFlags) *cobra.Command {
	var (
		byNPI       bool
		state       string
		details     bool
		registryURL string
	)

	cmd := &cobra.Command{
		Use:   "lookup <name|npi>",
		Short: "Resolve a single physician by name or NPI",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rf.load(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			term := strings.Join(args, " ")
			req := resolver.NameRequest(term, state)
			if byNPI {
				req = resolver.NPIRequest(term, state)
			}

			match, err := newResolver(cfg, logger).Resolve(ctx, req)
			if err != nil {
				return err
			}
			if match == nil {
				return fmt.Errorf("%s", notFoundMessage(req))
			}

			out := lookupOutput{MatchResult: match}
			if details {
				info, err := npi.NewRegistry(registryURL, nil).Lookup(ctx, match.NPI)
				if err != nil {
					logger.Warn().Err(err).Str("npi", match.NPI).Msg("registry lookup failed")
				}
				out.Registry = info
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().BoolVar(&byNPI, "npi", false, "Treat the term as an NPI")
	cmd.Flags().StringVar(&state, "state", "", "Two-letter state to restrict the match to")
	cmd.Flags().BoolVar(&details, "details", false, "Add the NPPES registry record for the match")
	cmd.Flags().StringVar(&registryURL, "registry-url", npi.DefaultRegistryURL, "NPPES registry API base URL")
	cmd.Flags().MarkHidden("registry-url")

	return cmd
}

func notFoundMessage(req resolver.SearchRequest) string {
	label := "name"
	if req.Kind == resolver.ByNPI {
		label = "NPI"
	}
	msg := fmt.Sprintf("no physician found with %s '%s'", label, req.Term)
	if st := strings.ToUpper(strings.TrimSpace(req.State)); st != "" {
		msg += " in " + st
	}
	return msg
}
