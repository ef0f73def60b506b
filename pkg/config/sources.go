package config

import (
	"os"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// EnvPrefix prefixes the generated environment variables, e.g. VOICERELAY_RELAY_POLICY.
const EnvPrefix = "VOICERELAY"

// EnvConfigFile names the YAML file when --config is not given.
const EnvConfigFile = EnvPrefix + "_CONFIG"

// Middlewares builds the parse chain for commands carrying the voicerelay section. Highest
// precedence first: flags set on the command line, the deployment variables (PACKAGE_NAME,
// MENTRAOS_API_KEY, PORT, CHAT_BASE_URL), VOICERELAY_* variables, the YAML file, field defaults.
//
// lookup reads the deployment variables; nil means os.LookupEnv.
func Middlewares(lookup func(string) (string, bool)) cli.CobraMiddlewaresFunc {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return func(_ *values.Values, cmd *cobra.Command, args []string) ([]sources.Middleware, error) {
		ms := []sources.Middleware{
			sources.FromCobra(cmd, fields.WithSource("cobra")),
			sources.FromArgs(args, fields.WithSource("arguments")),
			sources.FromMap(deploymentEnv(lookup), fields.WithSource("env")),
			sources.FromEnv(EnvPrefix, fields.WithSource("env")),
		}

		if path := configPath(cmd, lookup); path != "" {
			ms = append(ms, sources.FromFile(path,
				sources.WithConfigFileMapper(mapConfigFile),
				sources.WithParseOptions(fields.WithSource("config")),
			))
		}

		ms = append(ms, sources.FromDefaults(fields.WithSource("defaults")))
		return ms, nil
	}
}

func configPath(cmd *cobra.Command, lookup func(string) (string, bool)) string {
	if f := cmd.Flags().Lookup("config"); f != nil && f.Changed {
		return strings.TrimSpace(f.Value.String())
	}
	v, _ := lookup(EnvConfigFile)
	return strings.TrimSpace(v)
}

// deploymentEnv maps the unprefixed variables onto the voicerelay section. Values stay strings
// so the field parsers reject e.g. a non-numeric PORT.
func deploymentEnv(lookup func(string) (string, bool)) map[string]map[string]interface{} {
	section := map[string]interface{}{}
	for env, field := range map[string]string{
		EnvPackageName: "package-name",
		EnvAPIKey:      "api-key",
		EnvPort:        "port",
		EnvChatBaseURL: "chat-base-url",
	} {
		v, ok := lookup(env)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		section[field] = strings.TrimSpace(v)
	}
	return map[string]map[string]interface{}{SectionSlug: section}
}

// mapConfigFile accepts a flat file of voicerelay keys. Top-level maps named after another
// section (e.g. "redis:") go to that section.
func mapConfigFile(raw interface{}) (map[string]map[string]interface{}, error) {
	if raw == nil {
		return map[string]map[string]interface{}{}, nil
	}
	top, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("config file must be a mapping, got %T", raw)
	}
	out := map[string]map[string]interface{}{SectionSlug: {}}
	for k, v := range top {
		if k == "config" {
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			if out[k] == nil {
				out[k] = map[string]interface{}{}
			}
			for nk, nv := range nested {
				out[k][nk] = nv
			}
			continue
		}
		out[SectionSlug][k] = v
	}
	return out, nil
}
