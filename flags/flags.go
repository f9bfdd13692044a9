package flags

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pteich/elastic-doc-client/client"
	"github.com/pteich/elastic-doc-client/transport"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatRAW  = "raw"
)

// Flags holds the connection settings shared by all commands.
type Flags struct {
	ConfigFile       string `cli:"config" env:"ESDOC_CONFIG" usage:"YAML file with connection settings" yaml:"-"`
	ElasticURL       string `cli:"connect" env:"ESDOC_CONNECT" usage:"ElasticSearch URLs as comma separated list" yaml:"connect"`
	ElasticUser      string `cli:"user" env:"ESDOC_USER" usage:"ElasticSearch Username" yaml:"user"`
	ElasticPass      string `cli:"pass" env:"ESDOC_PASS" usage:"ElasticSearch Password" yaml:"pass"`
	ElasticVerifySSL bool   `cli:"verifySSL" usage:"Verify SSL certificate" yaml:"verifySSL"`
	ConnectTimeout   string `cli:"connectTimeout" usage:"Timeout for the handshake with every endpoint" yaml:"connectTimeout"`
	RequestTimeout   string `cli:"requestTimeout" usage:"Deadline for every request" yaml:"requestTimeout"`
	MaxConns         int    `cli:"maxConns" usage:"Maximum connections per endpoint, 0 for no limit" yaml:"maxConns"`
	Selector         string `cli:"selector" usage:"Endpoint selection [round-robin|first-healthy]" yaml:"selector"`
	Refresh          string `cli:"refresh" usage:"Refresh policy for writes [true|wait_for|false]" yaml:"refresh"`
	LogFormat        string `cli:"logFormat" usage:"Log output format [console|json]" yaml:"logFormat"`
	LogLevel         string `cli:"logLevel" usage:"Log level [debug|info|warn|error]" yaml:"logLevel"`
}

// Defaults returns the settings used when neither flags nor a file set them.
func Defaults() Flags {
	return Flags{
		ElasticURL:     "http://localhost:9200",
		ConnectTimeout: transport.DefaultConnectTimeout.String(),
		RequestTimeout: transport.DefaultRequestTimeout.String(),
		Selector:       string(transport.RoundRobin),
		LogFormat:      "console",
		LogLevel:       "info",
	}
}

type CrudFlags struct {
	Index string `cli:"index" cliAlt:"i" usage:"ElasticSearch Index"`
	Type  string `cli:"type" cliAlt:"t" usage:"Mapping type, only used by 7.x clusters"`
	ID    string `cli:"id" usage:"Document ID"`
}

type SearchFlags struct {
	Index     string `cli:"index" cliAlt:"i" usage:"ElasticSearch Index"`
	Field     string `cli:"field" usage:"Field to match against"`
	Query     string `cli:"query" cliAlt:"q" usage:"Text to match"`
	Operator  string `cli:"operator" usage:"Operator between terms [or|and]"`
	Size      int    `cli:"size" usage:"Number of hits to return"`
	Highlight string `cli:"highlight" usage:"Fields to highlight as comma separated list"`
	PreTag    string `cli:"preTag" usage:"Tag inserted before highlighted terms"`
	PostTag   string `cli:"postTag" usage:"Tag inserted after highlighted terms"`
	OutFormat string `cli:"outformat" cliAlt:"f" usage:"Format of the output data. [json|csv|raw]"`
	Outfile   string `cli:"outfile" cliAlt:"o" usage:"Path to output file, - for stdout"`
	Fieldlist string `cli:"fields" usage:"Fields to include in CSV output as comma separated list"`
	Fields    []string
}

type SeedFlags struct {
	Index   string `cli:"index" cliAlt:"i" usage:"ElasticSearch Index"`
	Type    string `cli:"type" cliAlt:"t" usage:"Mapping type, only used by 7.x clusters"`
	File    string `cli:"file" usage:"JSON lines file with one document per line, - for stdin"`
	IDField string `cli:"idField" usage:"Top level field used as document ID, empty for generated IDs"`
	Workers int    `cli:"workers" usage:"Number of concurrent index requests"`
}

// LoadFile reads YAML settings from path. A value from the file replaces
// the current one unless the field was set explicitly, either as a flag in
// args or through its environment variable, so command line and environment
// win over the file and the file wins over defaults.
func LoadFile(path string, conf *Flags, args []string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var file Flags
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	explicit := setFlags(args)
	dst := reflect.ValueOf(conf).Elem()
	src := reflect.ValueOf(file)
	typ := dst.Type()
	for i := 0; i < dst.NumField(); i++ {
		if src.Field(i).IsZero() {
			continue
		}
		field := typ.Field(i)
		if name := field.Tag.Get("cli"); name != "" && explicit[name] {
			continue
		}
		if env := field.Tag.Get("env"); env != "" {
			if _, ok := os.LookupEnv(env); ok {
				continue
			}
		}
		dst.Field(i).Set(src.Field(i))
	}
	return nil
}

// setFlags returns the names of all flags present in args, with or without
// a value.
func setFlags(args []string) map[string]bool {
	set := map[string]bool{}
	for _, arg := range args {
		if arg == "--" {
			break
		}
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name := strings.TrimLeft(arg, "-")
		if i := strings.IndexByte(name, '='); i >= 0 {
			name = name[:i]
		}
		if name != "" {
			set[name] = true
		}
	}
	return set
}

// ClientConfig converts the flags into client settings.
func (f Flags) ClientConfig() (client.Config, error) {
	cfg := client.Config{
		Endpoints:           SplitList(f.ElasticURL),
		Username:            f.ElasticUser,
		Password:            f.ElasticPass,
		VerifySSL:           f.ElasticVerifySSL,
		MaxConnsPerEndpoint: f.MaxConns,
		Selector:            transport.Selector(f.Selector),
		Refresh:             f.Refresh,
	}

	var err error
	if cfg.ConnectTimeout, err = parseDuration("connectTimeout", f.ConnectTimeout); err != nil {
		return client.Config{}, err
	}
	if cfg.RequestTimeout, err = parseDuration("requestTimeout", f.RequestTimeout); err != nil {
		return client.Config{}, err
	}
	return cfg, nil
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return d, nil
}

// SplitList splits a comma separated list and drops empty items.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
