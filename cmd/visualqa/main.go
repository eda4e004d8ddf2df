// visualqa drives the visual fidelity pipeline: crawl a reference site,
// rebuild it through a generator, capture both, and score the divergence.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"visualqa/internal/config"
)

var (
	opts = config.Defaults()

	verbose     bool
	previewPort int
	browserURL  string
	browserBin  string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "visualqa",
	Short: "Visual fidelity regression pipeline for generated websites",
	Long: `visualqa rebuilds reference websites through a prompt-to-website
generator and verifies the rebuild visually:

  1. Crawl the reference site into a page plan
  2. Generate a rebuild payload from the plan
  3. Capture screenshots and structural probes of both sides
  4. Diff pixels, attribute divergences, score fidelity
  5. Optionally feed the report back for auto-repair

Strategy comparison mode runs the same case set under several generator
configurations and reports pass rate and latency per strategy.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline over the manifest's cases",
	RunE:  runPipeline,
}

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Run every strategy group over the case set and compare results",
	RunE:  runCompare,
}

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl and capture the reference sites only, no generation",
	RunE:  runCrawl,
}

var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Print archived run history",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReport,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&opts.Manifest, "manifest", "manifest.yaml", "Path to the case manifest")
	pf.StringVar(&opts.RunID, "run-id", "", "Run identifier (generated when empty)")
	pf.StringSliceVar(&opts.Groups, "groups", nil, "Strategy group ids to run (default: all)")
	pf.StringVar(&opts.Renderer, "renderer", opts.Renderer, "Preview renderer target (sandbox|render)")
	pf.IntVar(&opts.MaxCases, "max-cases", 0, "Cap on cases per run (0 = all)")
	pf.StringVar(&opts.Output, "out", opts.Output, "Artifact output directory")
	pf.IntVar(&previewPort, "preview-port", 4173, "Port the preview renderer binds")
	pf.StringVar(&browserURL, "browser-url", "", "DevTools URL of an existing browser (launches one when empty)")
	pf.StringVar(&browserBin, "browser-bin", "", "Browser binary path")

	pf.BoolVar(&opts.SkipIngest, "skip-ingest", false, "Reuse cached crawl plans instead of re-crawling")
	pf.BoolVar(&opts.SkipRegression, "skip-regression", false, "Stop after capture, skip diff and scoring")
	pf.BoolVar(&opts.CrawlSite, "crawl-site", false, "Crawl and capture reference sites only")
	pf.IntVar(&opts.CrawlMaxPages, "crawl-max-pages", opts.CrawlMaxPages, "Max pages discovered per site")
	pf.IntVar(&opts.CrawlMaxDepth, "crawl-max-depth", opts.CrawlMaxDepth, "Max link depth from the start page")
	pf.IntVar(&opts.CrawlCapturePages, "crawl-capture-pages", opts.CrawlCapturePages, "Pages captured per site")

	pf.StringVar(&opts.FidelityMode, "fidelity-mode", opts.FidelityMode, "Fidelity mode (standard|strict)")
	pf.Float64Var(&opts.FidelityThreshold, "fidelity-threshold", opts.FidelityThreshold, "Pass threshold, 0-100")
	pf.StringVar(&opts.FidelityEnforcement, "fidelity-enforcement", opts.FidelityEnforcement, "Below-threshold action (warn|fail)")
	pf.Float64Var(&opts.StructuralWeight, "structural-weight", opts.StructuralWeight, "Structural share of the blended score, 0-1")
	pf.Float64Var(&opts.PixelThreshold, "pixel-threshold", opts.PixelThreshold, "Perceptual pixel diff sensitivity, 0-1")
	pf.IntVar(&opts.AutoRepairIterations, "auto-repair-iterations", opts.AutoRepairIterations, "Repair loop budget, 0-5")

	pf.IntVar(&opts.CrawlConcurrency, "crawl-concurrency", opts.CrawlConcurrency, "Crawl stage pool size")
	pf.IntVar(&opts.ScreenshotConcurrency, "screenshot-concurrency", opts.ScreenshotConcurrency, "Capture stage pool size")
	pf.IntVar(&opts.RegressionConcurrency, "regression-concurrency", opts.RegressionConcurrency, "Compare stage pool size")
	pf.IntVar(&opts.PipelineParallel, "pipeline-parallel", opts.PipelineParallel, "Whole-pipeline concurrency across sites")

	pf.IntVar(&opts.CrawlTimeoutMs, "crawl-timeout-ms", opts.CrawlTimeoutMs, "Crawl stage timeout")
	pf.IntVar(&opts.ScreenshotTimeoutMs, "screenshot-timeout-ms", opts.ScreenshotTimeoutMs, "Capture stage timeout")
	pf.IntVar(&opts.RegressionTimeoutMs, "regression-timeout-ms", opts.RegressionTimeoutMs, "Compare stage timeout")
	pf.IntVar(&opts.TotalTimeoutMs, "total-timeout-ms", 0, "Whole-site timeout (0 = unbounded)")

	pf.IntVar(&opts.SiteRetryCount, "site-retry-count", opts.SiteRetryCount, "Retries per site after the first attempt")
	pf.IntVar(&opts.SiteRetryDelayMs, "site-retry-delay-ms", opts.SiteRetryDelayMs, "Delay between site attempts")
	pf.IntVar(&opts.SiteCircuitBreakerThreshold, "site-circuit-breaker-threshold", opts.SiteCircuitBreakerThreshold, "Consecutive failures before the breaker opens")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(reportCmd)
}

// resolveConfig clamps the collected flags and fills in a generated run id.
func resolveConfig() (config.Pipeline, error) {
	if opts.RunID == "" {
		opts.RunID = fmt.Sprintf("run-%s-%s",
			time.Now().UTC().Format("20060102-150405"), uuid.NewString()[:8])
	}
	return config.Resolve(opts)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
