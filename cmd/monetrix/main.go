package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Handle help flag first
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	args := positionalArgs(os.Args[2:])
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe()
	case "mcp":
		err = runMCP()
	case "call":
		err = runCall(args)
	case "encrypt":
		err = runEncrypt(args)
	case "doctor":
		err = runDoctor()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'monetrix --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		if !errors.Is(err, errToolResult) {
			fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		}
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`monetrix - Financial data tools for LLM runtimes

USAGE:
    monetrix [COMMAND] [ARGS] [FLAGS]

COMMANDS:
    serve                  Run the WebSocket gateway and scheduler (default)
    mcp                    Serve the tools over MCP on stdio
    call <tool> [json]     Execute one tool and print the result
    encrypt <value>        Encrypt a secret for config.yaml (needs MONETRIX_CONFIG_KEY)
    doctor                 Run health checks on your setup

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml (optional; defaults apply when missing)
    Environment: MONETRIX_* variables override config
                 FINANCIAL_API_BASE_URL, CACHE_MAX_SIZE, CACHE_TTL (ms),
                 RATE_LIMIT_MAX_REQUESTS, RATE_LIMIT_WINDOW_MS are honoured too

TOOLS:
    getStockPrices, getIncomeStatements, getBalanceSheets,
    getCashFlowStatements, getFinancialMetrics, searchStocksByFilters, getNews

EXAMPLES:
    monetrix                                         # Serve with config.yaml
    monetrix call getNews '{"ticker":"AAPL","limit":3}'
    MONETRIX_CONFIG_KEY=... monetrix encrypt sk-...  # Encrypt the API key
    monetrix doctor                                  # Check system health`)
}

// configPath resolves --config, then MONETRIX_CONFIG, then ./config.yaml.
func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("MONETRIX_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// positionalArgs drops flags (and the value of --config) from args.
func positionalArgs(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config":
			i++
		case strings.HasPrefix(args[i], "--"):
		default:
			out = append(out, args[i])
		}
	}
	return out
}
