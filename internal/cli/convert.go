package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xxxbrian/surge-qx/internal/cache"
	"github.com/xxxbrian/surge-qx/internal/converter"
	"github.com/xxxbrian/surge-qx/internal/fetcher"
	"github.com/xxxbrian/surge-qx/internal/host"
	"github.com/xxxbrian/surge-qx/internal/logging"
)

type convertOptions struct {
	url       string
	link      string
	policy    string
	domainSet bool
	output    string
	stats     bool
}

func newConvertCmd(root *rootOptions) *cobra.Command {
	opts := &convertOptions{}

	cmd := &cobra.Command{
		Use:   "convert [file]",
		Short: "Convert a Surge rule list to QuantumultX",
		Long: fmt.Sprintf(`Convert a Surge rule list read from a file, stdin ("-" or no argument),
or a remote URL. Options may be given as flags or encoded in the fragment of
--url/--link, e.g. https://example.com/list.txt#policy=direct&domain-set=true.

Supported rule types: %s. Other rule lines are counted as errors.

On a fatal error the output still contains an "# Error:" header followed by
the original content, and the command exits non-zero.`, strings.Join(converter.SupportedRuleTypeNames(), ", ")),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, root, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "Fetch the rule list from this URL (fragment carries options)")
	cmd.Flags().StringVar(&opts.link, "link", "", "Link whose fragment carries options for local content")
	cmd.Flags().StringVarP(&opts.policy, "policy", "p", "", "Policy appended to every rule (default from config, then \"proxy\")")
	cmd.Flags().BoolVar(&opts.domainSet, "domain-set", false, "Treat input as a domain set")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write output to this file instead of stdout")
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "Print line statistics to stderr")
	cmd.MarkFlagsMutuallyExclusive("url", "link")
	return cmd
}

func runConvert(cmd *cobra.Command, root *rootOptions, opts *convertOptions, args []string) error {
	if opts.url != "" && len(args) > 0 {
		return fmt.Errorf("cannot combine --url with a file argument")
	}

	link := opts.link
	var content string
	if opts.url != "" {
		link = opts.url
		f := fetcher.NewFetcher(cache.NewUpstreamCache(root.cfg.Cache.UpstreamTTL), root.cfg.Fetch.Timeout, root.cfg.Fetch.UserAgent)
		body, _, err := f.Fetch(cmd.Context(), link)
		if err != nil {
			return err
		}
		content = body
	} else {
		body, err := readInput(cmd, args)
		if err != nil {
			return err
		}
		content = body
	}

	link = applyFlagOverrides(cmd, root, opts, link)

	conv := converter.NewConverter(converter.WithLogger(logging.GetLogger("converter")))
	runner := host.NewRunner(conv)

	var output string
	result, runErr := runner.Run(host.StaticSource{URL: link, Body: content}, func(out host.Output) {
		output = out.Content
	})

	if err := writeOutput(cmd, opts.output, output); err != nil {
		return err
	}
	if opts.stats && result != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), converter.RenderStats(result.Stats))
	}
	return runErr
}

// applyFlagOverrides folds explicit flags, and the configured default policy,
// into the fragment of link.
func applyFlagOverrides(cmd *cobra.Command, root *rootOptions, opts *convertOptions, link string) string {
	overrides := make(map[string]string)
	if cmd.Flags().Changed("policy") {
		overrides[converter.ParamPolicy] = opts.policy
	} else if root.cfg != nil && root.cfg.Convert.Policy != "" && root.cfg.Convert.Policy != converter.DefaultPolicy {
		if params, err := converter.ParseURLParameters(link); err == nil && params[converter.ParamPolicy] == "" {
			overrides[converter.ParamPolicy] = root.cfg.Convert.Policy
		}
	}
	if cmd.Flags().Changed("domain-set") {
		overrides[converter.ParamDomainSet] = fmt.Sprintf("%t", opts.domainSet)
	}
	return converter.MergeParameters(link, overrides)
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	return string(data), nil
}

func writeOutput(cmd *cobra.Command, path, output string) error {
	if path == "" {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), output)
		return err
	}
	if err := os.WriteFile(path, []byte(output+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
