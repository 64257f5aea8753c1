// modgen generates, verifies, and packages a Python module from a
// natural-language requirement.
//
// Usage:
//
//	modgen [flags] "requirement text"
//	echo "requirement text" | modgen [flags]
//	modgen -history [flags]
//	modgen -set-secret ANTHROPIC_API_KEY [flags]
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"modgen/pkg/config"
	"modgen/pkg/llm"
	"modgen/pkg/logx"
	"modgen/pkg/metrics"
	"modgen/pkg/persistence"
	"modgen/pkg/pipeline"
	"modgen/pkg/sandbox"
	"modgen/pkg/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		provider    = flag.String("provider", "", "LLM provider: anthropic, openai, ollama, gemini")
		model       = flag.String("model", "", "Generation model override")
		backend     = flag.String("sandbox", "", "Sandbox backend: subprocess or docker")
		outputDir   = flag.String("output", "", "Directory for packaged modules")
		secretsFile = flag.String("secrets", "", "Path to encrypted secrets file")
		setSecret   = flag.String("set-secret", "", "Store a secret under the given name and exit")
		history     = flag.Bool("history", false, "Show recent runs and exit")
		noJournal   = flag.Bool("no-journal", false, "Disable the run journal")
		debug       = flag.Bool("debug", false, "Enable debug logging")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("modgen %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		return 0
	}

	logger := logx.NewLogger("modgen")
	if *debug {
		logx.SetDebug(true, nil)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config: %v", err)
		return 1
	}
	applyOverrides(&cfg, *provider, *model, *backend, *outputDir)

	if *secretsFile != "" && *setSecret == "" {
		if err := unlockSecrets(*secretsFile); err != nil {
			logger.Error("secrets: %v", err)
			return 1
		}
	}
	if *setSecret != "" {
		if err := storeSecret(*secretsFile, *setSecret); err != nil {
			logger.Error("set-secret: %v", err)
			return 1
		}
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *history {
		return showHistory(ctx, cfg, logger)
	}

	request, err := readRequirement(flag.Args())
	if err != nil {
		logger.Error("%v", err)
		fmt.Fprintln(os.Stderr, "usage: modgen [flags] \"requirement text\"")
		return 2
	}

	verdict, err := execute(ctx, cfg, *noJournal, request, logger)
	if err != nil {
		logger.Error("%v", err)
		return 1
	}

	printVerdict(verdict)
	if cfg.MetricsSnapshot != "" {
		if err := metrics.WriteSnapshot(cfg.MetricsSnapshot); err != nil {
			logger.Warn("metrics snapshot: %v", err)
		}
	}
	if !verdict.Success {
		return 1
	}
	return 0
}

func applyOverrides(cfg *config.Config, provider, model, backend, outputDir string) {
	if provider != "" {
		cfg.Provider = provider
		if model == "" {
			cfg.Model = ""
			cfg.SmallModel = ""
		}
	}
	if model != "" {
		cfg.Model = model
	}
	if backend != "" {
		cfg.Sandbox.Backend = backend
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	reapplyDefaults(cfg)
}

// reapplyDefaults fills model fields cleared by a provider override.
func reapplyDefaults(cfg *config.Config) {
	if cfg.Model == "" {
		cfg.Model = modelFor(cfg.Provider)
	}
	if cfg.SmallModel == "" {
		cfg.SmallModel = cfg.Model
	}
}

func modelFor(provider string) string {
	switch provider {
	case config.ProviderOpenAI:
		return config.DefaultOpenAIModel
	case config.ProviderOllama:
		return config.DefaultOllamaModel
	case config.ProviderGemini:
		return config.DefaultGeminiModel
	default:
		return config.DefaultAnthropicModel
	}
}

// execute wires the pipeline from config and runs it once.
func execute(ctx context.Context, cfg config.Config, noJournal bool, request string, logger *logx.Logger) (pipeline.Verdict, error) {
	if err := cfg.Validate(); err != nil {
		return pipeline.Verdict{}, err
	}

	generator, err := buildClient(cfg, cfg.Model)
	if err != nil {
		return pipeline.Verdict{}, err
	}
	small, err := buildClient(cfg, cfg.SmallModel)
	if err != nil {
		return pipeline.Verdict{}, err
	}

	session := sandbox.New(sandbox.Backend(cfg.Sandbox.Backend), sandbox.Opts{
		Interpreter:     cfg.Sandbox.Interpreter,
		Image:           cfg.Sandbox.Image,
		Timeout:         cfg.SandboxTimeout(),
		NetworkDisabled: cfg.Sandbox.NetworkDisabled,
	})

	engine := pipeline.NewEngine(cfg.MaxRetries,
		pipeline.NewGenerateStage(generator, cfg.MaxRetries),
		pipeline.NewGenerateTestsStage(small),
		pipeline.NewExecuteStage(session, cfg.Sandbox.SetupCommands),
		pipeline.NewReviewStage(small),
		pipeline.NewPackageStage(cfg.OutputDir),
	)

	var journal pipeline.Recorder
	if !noJournal {
		j, err := persistence.Open(cfg.JournalPath)
		if err != nil {
			logger.Warn("journal unavailable: %v", err)
		} else {
			defer func() { _ = j.Close() }()
			journal = j
		}
	}

	ctrl := pipeline.NewController(engine, session, journal)
	return ctrl.Run(ctx, request), nil
}

// buildClient constructs the configured provider client for a model.
func buildClient(cfg config.Config, model string) (llm.Client, error) {
	apiKey, err := cfg.APIKey()
	if err != nil {
		return nil, err
	}
	var client llm.Client
	switch cfg.Provider {
	case config.ProviderAnthropic:
		client = llm.NewAnthropicClient(apiKey, model)
	case config.ProviderOpenAI:
		client = llm.NewOpenAIClient(apiKey, model)
	case config.ProviderOllama:
		client = llm.NewOllamaClient(cfg.OllamaHost, model)
	case config.ProviderGemini:
		client = llm.NewGeminiClient(apiKey, model)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	return llm.Instrument(client, cfg.Provider), nil
}

// readRequirement takes the requirement from args, or from stdin when it is
// piped in.
func readRequirement(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("no requirement given")
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("no requirement given")
	}
	return string(data), nil
}

func printVerdict(v pipeline.Verdict) {
	fmt.Printf("run %s: ", v.RunID)
	if v.Success {
		fmt.Printf("SUCCESS after %d attempt(s)\n", v.Attempts)
	} else {
		fmt.Printf("FAILED after %d attempt(s)\n", v.Attempts)
		if v.Error != "" {
			fmt.Printf("  %s\n", v.Error)
		}
	}
	fmt.Println()

	if v.Code != "" {
		fmt.Println("--- generated code ---")
		fmt.Println(v.Code)
		fmt.Println()
	}
	fmt.Println(pipeline.FormatExecutionResult(v.ExecutionResult))
	fmt.Println(pipeline.FormatReviewResult(v.ReviewResult))
	if v.Success {
		fmt.Println(pipeline.FormatPackageInfo(v.PackageInfo))
	}
}

func showHistory(ctx context.Context, cfg config.Config, logger *logx.Logger) int {
	j, err := persistence.Open(cfg.JournalPath)
	if err != nil {
		logger.Error("journal: %v", err)
		return 1
	}
	defer func() { _ = j.Close() }()

	runs, err := j.Recent(ctx, 20)
	if err != nil {
		logger.Error("journal: %v", err)
		return 1
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return 0
	}
	for _, r := range runs {
		status := "FAILED"
		if r.Success {
			status = "ok"
		}
		fmt.Printf("%s  %s  %-6s  attempts=%d  %s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.ID, status, r.Attempts, r.ModulePath)
	}
	return 0
}

// unlockSecrets loads an encrypted secrets file, prompting for the
// passphrase when attached to a terminal.
func unlockSecrets(path string) error {
	passphrase := os.Getenv("MODGEN_SECRETS_PASSPHRASE")
	if passphrase == "" {
		var err error
		passphrase, err = promptPassword("Secrets passphrase: ")
		if err != nil {
			return err
		}
	}
	return config.LoadSecretsFile(path, passphrase)
}

// storeSecret writes one secret into the encrypted file, creating it if
// needed.
func storeSecret(path, name string) error {
	if path == "" {
		return fmt.Errorf("-set-secret requires -secrets <file>")
	}
	passphrase := os.Getenv("MODGEN_SECRETS_PASSPHRASE")
	if passphrase == "" {
		var err error
		passphrase, err = promptPassword("Secrets passphrase: ")
		if err != nil {
			return err
		}
	}

	if err := config.LoadSecretsFile(path, passphrase); err != nil {
		return err
	}
	value, err := promptPassword(fmt.Sprintf("Value for %s: ", name))
	if err != nil {
		return err
	}
	secrets := config.AllSecrets()
	secrets[name] = value
	if err := config.SaveSecretsFile(path, passphrase, secrets); err != nil {
		return err
	}
	fmt.Printf("stored %s in %s\n", name, path)
	return nil
}

func promptPassword(prompt string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read passphrase: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
