package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-logr/logr"

	"github.com/parascan/repocore/pkg/api"
	"github.com/parascan/repocore/pkg/cleantemp"
	"github.com/parascan/repocore/pkg/config"
	"github.com/parascan/repocore/pkg/context"
	"github.com/parascan/repocore/pkg/credcipher"
	"github.com/parascan/repocore/pkg/credstore"
	"github.com/parascan/repocore/pkg/findings"
	"github.com/parascan/repocore/pkg/gitrepo"
	"github.com/parascan/repocore/pkg/log"
	"github.com/parascan/repocore/pkg/scanprep"
)

// credentialEnvVar names the environment variable the validate and clone
// commands read the secret from, keeping it off argv and out of shell
// history.
const credentialEnvVar = "REPOCORE_CREDENTIAL"

var (
	cli     = kingpin.New("repocore", "Repository access validation, authenticated cloning, and scan findings comparison.")
	jsonOut = cli.Flag("json", "Log in JSON format.").Bool()
	debug   = cli.Flag("debug", "Verbose logging.").Bool()

	serveCmd = cli.Command("serve", "Run the HTTP API server.")

	validateCmd    = cli.Command("validate", "Check that a credential grants access to a repository. Reads the secret from $"+credentialEnvVar+".")
	validateURL    = validateCmd.Arg("url", "Repository URL.").Required().String()
	validateKind   = validateCmd.Flag("kind", "Credential kind.").Default("PAT").Enum("PAT", "SSH")
	validateNoSize = validateCmd.Flag("no-size-check", "Skip the repository size ceiling.").Bool()

	cloneCmd    = cli.Command("clone", "Shallow-clone a repository into a managed temp directory. Reads the secret from $"+credentialEnvVar+".")
	cloneURL    = cloneCmd.Arg("url", "Repository URL.").Required().String()
	cloneKind   = cloneCmd.Flag("kind", "Credential kind.").Default("PAT").Enum("PAT", "SSH")
	cloneBranch = cloneCmd.Flag("branch", "Branch to clone.").String()
	cloneDepth  = cloneCmd.Flag("depth", "Clone depth.").Default("1").Int()
	cloneKeep   = cloneCmd.Flag("keep", "Keep the working tree instead of deleting it on exit.").Bool()

	diffCmd   = cli.Command("diff", "Compare two finding lists and report common, fixed, and introduced findings.")
	diffFileA = diffCmd.Arg("scan-a", "JSON file with the earlier scan's findings.").Required().ExistingFile()
	diffFileB = diffCmd.Arg("scan-b", "JSON file with the later scan's findings.").Required().ExistingFile()
)

func main() {
	cmd := kingpin.MustParse(cli.Parse(os.Args[1:]))

	logger, flush := newLogger(*jsonOut, *debug)
	defer func() { _ = flush() }()
	context.SetDefaultLogger(logger)
	ctx := context.WithLogger(context.Background(), logger)

	switch cmd {
	case serveCmd.FullCommand():
		runServe(ctx)
	case validateCmd.FullCommand():
		runValidate(ctx)
	case cloneCmd.FullCommand():
		runClone(ctx)
	case diffCmd.FullCommand():
		runDiff(ctx)
	}
}

func newLogger(jsonOut, debug bool) (logr.Logger, func() error) {
	level := int8(0)
	if debug {
		level = 2
	}
	if jsonOut {
		return log.New("repocore",
			log.WithJSONSink(os.Stderr, log.WithLevel(level), log.WithGlobalRedaction()))
	}
	return log.New("repocore",
		log.WithConsoleSink(os.Stderr, log.WithLevel(level), log.WithGlobalRedaction()))
}

func runServe(ctx context.Context) {
	logger := ctx.Logger()

	if err := gitrepo.CmdCheck(); err != nil {
		logger.Error(err, "git preflight failed")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error(err, "invalid configuration")
		os.Exit(1)
	}
	keychain, err := credcipher.NewKeychain(cfg.MasterKeyHex)
	if err != nil {
		logger.Error(err, "invalid master key")
		os.Exit(1)
	}

	var store credstore.Store
	if cfg.HasDatabase() {
		pg, err := credstore.Open(ctx, cfg.PostgresDSN())
		if err != nil {
			logger.Error(err, "connecting to postgres")
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error(err, "ensuring schema")
			os.Exit(1)
		}
		store = pg
	} else {
		logger.Info("no database configured, requests must carry inline credentials")
	}

	prep := scanprep.New(keychain, store, cfg.CloneRoot, cfg.MaxCloneWorkers)
	server := api.NewServer(ctx, prep)

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	go cleantemp.RunCleanupLoop(loopCtx, cleantemp.DefaultCleanupDelay)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "http server failed")
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "shutdown did not complete cleanly")
	}
}

func runValidate(ctx context.Context) {
	if err := gitrepo.CmdCheck(); err != nil {
		ctx.Logger().Error(err, "git preflight failed")
		os.Exit(1)
	}

	credential := os.Getenv(credentialEnvVar)
	kind := gitrepo.CredentialKind(*validateKind)

	var outcome gitrepo.ValidationOutcome
	if *validateNoSize {
		outcome = gitrepo.Validate(ctx, *validateURL, kind, credential)
	} else {
		outcome = gitrepo.ValidateSize(ctx, *validateURL, kind, credential)
	}
	printJSON(outcome)
	if !outcome.Valid {
		os.Exit(1)
	}
}

func runClone(ctx context.Context) {
	if err := gitrepo.CmdCheck(); err != nil {
		ctx.Logger().Error(err, "git preflight failed")
		os.Exit(1)
	}

	credential := os.Getenv(credentialEnvVar)
	kind := gitrepo.CredentialKind(*cloneKind)

	targetDir, err := cleantemp.MkdirTemp()
	if err != nil {
		ctx.Logger().Error(err, "creating clone directory")
		os.Exit(1)
	}

	opts := gitrepo.CloneOptions{Depth: *cloneDepth, Branch: *cloneBranch}
	var outcome gitrepo.CloneOutcome
	switch kind {
	case gitrepo.CredentialKindSSH:
		outcome = gitrepo.CloneWithKey(ctx, *cloneURL, credential, targetDir, opts)
	default:
		outcome = gitrepo.CloneWithToken(ctx, *cloneURL, credential, targetDir, opts)
	}
	printJSON(outcome)
	if !outcome.Success {
		cleantemp.Cleanup(ctx, targetDir)
		os.Exit(1)
	}
	if !*cloneKeep {
		cleantemp.Cleanup(ctx, targetDir)
	}
}

func runDiff(ctx context.Context) {
	listA, err := readFindings(*diffFileA)
	if err != nil {
		ctx.Logger().Error(err, "reading findings", "file", *diffFileA)
		os.Exit(1)
	}
	listB, err := readFindings(*diffFileB)
	if err != nil {
		ctx.Logger().Error(err, "reading findings", "file", *diffFileB)
		os.Exit(1)
	}

	diff := findings.Diff(listA, listB)
	printJSON(struct {
		findings.DiffResult
		Delta findings.Delta `json:"securityDelta"`
	}{diff, findings.SecurityDelta(diff)})
}

func readFindings(path string) ([]findings.Finding, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []findings.Finding
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return list, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
