package bench

import (
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/ValentinKolb/blockstm/cmd/util"
	"github.com/ValentinKolb/blockstm/lib/commitlog"
	"github.com/ValentinKolb/blockstm/lib/executor"
	exectesting "github.com/ValentinKolb/blockstm/lib/executor/testing"
	"github.com/ValentinKolb/blockstm/lib/logging"
	"github.com/ValentinKolb/blockstm/lib/stm"
)

var log = logger.GetLogger("bench")

// benchConfig is the fully resolved benchmark configuration.
type benchConfig struct {
	Txns            int
	Blocks          int
	Concurrency     int
	HotKeys         int
	ConflictRate    float64
	Hints           bool
	MaxIncarnations int
	Sequential      bool
	Seed            int64
	CommitLogPath   string
	LogLevel        string
}

// String returns a pretty printed version of the config
func (c *benchConfig) String() string {
	return fmt.Sprintf(`benchmark config:
  txns per block   : %d
  blocks           : %d
  concurrency      : %d
  hot keys         : %d
  conflict rate    : %.2f
  hints            : %v
  max incarnations : %d
  sequential       : %v
  seed             : %d
  commit log       : %q
  log level        : %s`,
		c.Txns, c.Blocks, c.Concurrency, c.HotKeys, c.ConflictRate,
		c.Hints, c.MaxIncarnations, c.Sequential, c.Seed,
		c.CommitLogPath, c.LogLevel)
}

var (
	benchCmdConfig = &benchConfig{}

	// BenchCmd runs generated workloads through the engine and reports
	// latency and throughput.
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Benchmark parallel block execution",
		Long:    `Run generated key-value workloads through the block executor and report per-block latency and transaction throughput. The configuration can be set via command line flags or environment variables. The format of the environment variables is BSTM_<flag> (e.g. BSTM_TXNS=5000)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "txns"
	BenchCmd.PersistentFlags().Int(key, 1000, cmdUtil.WrapString("Number of transactions per block"))

	key = "blocks"
	BenchCmd.PersistentFlags().Int(key, 10, cmdUtil.WrapString("Number of blocks to execute"))

	key = "concurrency"
	BenchCmd.PersistentFlags().Int(key, runtime.NumCPU(), cmdUtil.WrapString("Number of worker goroutines"))

	key = "hot-keys"
	BenchCmd.PersistentFlags().Int(key, 10, cmdUtil.WrapString("Size of the contended key set"))

	key = "conflict-rate"
	BenchCmd.PersistentFlags().Float64(key, 0.2, cmdUtil.WrapString("Probability in [0,1] that a transaction touches the contended keys instead of its private ones"))

	key = "hints"
	BenchCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Pre-register estimated write sets before execution"))

	key = "max-incarnations"
	BenchCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("Re-execution budget per transaction before the block falls back to sequential execution (0 = unbounded)"))

	key = "sequential"
	BenchCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Use the sequential executor instead of the parallel one (baseline)"))

	key = "seed"
	BenchCmd.PersistentFlags().Int64(key, 42, cmdUtil.WrapString("Seed for the workload generator"))

	key = "commit-log"
	BenchCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Path to write a commit log to (empty = disabled)"))

	key = "log-level"
	BenchCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	benchCmdConfig.Txns = viper.GetInt("txns")
	benchCmdConfig.Blocks = viper.GetInt("blocks")
	benchCmdConfig.Concurrency = viper.GetInt("concurrency")
	benchCmdConfig.HotKeys = viper.GetInt("hot-keys")
	benchCmdConfig.ConflictRate = viper.GetFloat64("conflict-rate")
	benchCmdConfig.Hints = viper.GetBool("hints")
	benchCmdConfig.MaxIncarnations = viper.GetInt("max-incarnations")
	benchCmdConfig.Sequential = viper.GetBool("sequential")
	benchCmdConfig.Seed = viper.GetInt64("seed")
	benchCmdConfig.CommitLogPath = viper.GetString("commit-log")
	benchCmdConfig.LogLevel = viper.GetString("log-level")

	if benchCmdConfig.Txns < 1 {
		return fmt.Errorf("txns must be >= 1, got %d", benchCmdConfig.Txns)
	}
	if benchCmdConfig.Blocks < 1 {
		return fmt.Errorf("blocks must be >= 1, got %d", benchCmdConfig.Blocks)
	}
	if benchCmdConfig.ConflictRate < 0 || benchCmdConfig.ConflictRate > 1 {
		return fmt.Errorf("conflict-rate must be in [0,1], got %f", benchCmdConfig.ConflictRate)
	}

	return nil
}

func run(_ *cobra.Command, _ []string) error {
	conf := benchCmdConfig
	logging.Initialize(conf.LogLevel)

	// optional commit log sink
	var listener stm.CommitListener
	var logWriter *commitlog.Writer
	if conf.CommitLogPath != "" {
		f, err := os.Create(conf.CommitLogPath)
		if err != nil {
			return fmt.Errorf("failed to create commit log: %w", err)
		}
		defer f.Close()

		logWriter, err = commitlog.NewWriter(f)
		if err != nil {
			return fmt.Errorf("failed to create commit log writer: %w", err)
		}
		listener = logWriter
	}

	// build the executor
	cfg := executor.Config{
		Concurrency:     conf.Concurrency,
		MaxIncarnations: conf.MaxIncarnations,
		UseHints:        conf.Hints,
		Listener:        listener,
	}
	var (
		e   executor.IBlockExecutor
		err error
	)
	if conf.Sequential {
		e = executor.NewSequentialExecutor(cfg)
	} else {
		e, err = executor.NewBlockExecutor(cfg)
		if err != nil {
			return err
		}
	}

	fmt.Println(conf.String())

	// run the blocks
	registry := gometrics.NewRegistry()
	timer := gometrics.GetOrRegisterTimer("block", registry)

	opts := exectesting.WorkloadOptions{
		NumTxns:      conf.Txns,
		NumHotKeys:   conf.HotKeys,
		ConflictRate: conf.ConflictRate,
	}
	base := exectesting.GenBaseState(opts)
	fellBack := 0

	for i := 0; i < conf.Blocks; i++ {
		r := rand.New(rand.NewSource(conf.Seed + int64(i)))
		txns := exectesting.GenWorkload(r, opts)

		start := time.Now()
		result, err := e.ExecuteBlock(txns, base)
		if err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
		timer.Update(time.Since(start))

		if result.FellBack {
			fellBack++
			log.Infof("block %d fell back to sequential execution", i)
		}
	}

	if logWriter != nil {
		if err := logWriter.Close(); err != nil {
			return fmt.Errorf("failed to close commit log: %w", err)
		}
	}

	// report
	totalTxns := float64(conf.Blocks * conf.Txns)
	fmt.Printf("\nblocks           : %d (%d fell back to sequential)\n", conf.Blocks, fellBack)
	fmt.Printf("block latency    : mean=%s p95=%s max=%s\n",
		time.Duration(int64(timer.Mean())),
		time.Duration(int64(timer.Percentile(0.95))),
		time.Duration(timer.Max()))
	fmt.Printf("txn throughput   : %.0f txns/s\n", totalTxns/(float64(timer.Sum())/float64(time.Second)))

	return nil
}
