// trialmatch ranks clinical trial listings for a single patient.
//
// The evaluate command prompts an LLM once per trial and merges the
// structured verdicts into a resumable JSON store; the export command
// flattens that store into a CSV sorted by total score. Two-stage
// refinement is plain re-invocation: run evaluate over everything with a
// cheap model, then again with a stronger model, --previous-output
// pointing at the first file and --top limiting the second pass.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/overlab-kevin/clinical-trial-matcher/internal/eval"
	"github.com/overlab-kevin/clinical-trial-matcher/internal/export"
	"github.com/overlab-kevin/clinical-trial-matcher/internal/notify"
	"github.com/overlab-kevin/clinical-trial-matcher/internal/objstore"
	"github.com/overlab-kevin/clinical-trial-matcher/internal/patient"
	"github.com/overlab-kevin/clinical-trial-matcher/internal/store"
	"github.com/overlab-kevin/clinical-trial-matcher/internal/trials"
)

var (
	verbose        bool
	previousOutput string
	topN           int

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "trialmatch",
	Short: "Rank clinical trials for a patient with an LLM",
	Long: `trialmatch evaluates clinical trial listings against one patient's
profile by prompting a large language model per trial, and exports the
merged results as a ranked CSV.

Runs are resumable: trials already present in the output file are
skipped, so an interrupted batch picks up where it stopped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		config.Encoding = "console"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
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

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [patient-file] [trials-json] [output-json] [model]",
	Short: "Evaluate every trial in the input set against the patient",
	Long: `Reads the patient profile (plain text, PDF or DOCX; local path or
r2://bucket/key), the ClinicalTrials.gov JSON export and the output
store, then evaluates each trial not yet present in the store.

With --previous-output and --top, only the top-ranked trials from an
earlier pass are evaluated; everything else is excluded from this run's
output.`,
	Args: cobra.ExactArgs(4),
	RunE: runEvaluate,
}

var exportCmd = &cobra.Command{
	Use:   "export [output-json] [csv-file]",
	Short: "Flatten an output store into a CSV ranked by total score",
	Args:  cobra.ExactArgs(2),
	RunE:  runExport,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	evaluateCmd.Flags().StringVar(&previousOutput, "previous-output", "", "output store of a previous pass to rank candidates by")
	evaluateCmd.Flags().IntVar(&topN, "top", 0, "evaluate only the top N trials from --previous-output")
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(exportCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	patientPath, trialsPath, outputPath, modelName := args[0], args[1], args[2], args[3]
	ctx := cmd.Context()
	log := logger.Sugar()

	if (previousOutput == "") != (topN == 0) {
		return fmt.Errorf("--previous-output and --top must be used together")
	}

	_ = godotenv.Load()
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("empty GOOGLE_API_KEY in environment")
	}

	patientBytes, err := objstore.ReadInput(ctx, patientPath)
	if err != nil {
		return fmt.Errorf("read patient file: %w", err)
	}
	patientText, err := patient.Extract(patientPath, patientBytes)
	if err != nil {
		return fmt.Errorf("extract patient profile: %w", err)
	}

	trialBytes, err := objstore.ReadInput(ctx, trialsPath)
	if err != nil {
		return fmt.Errorf("read trials file: %w", err)
	}
	trialSet, err := trials.Load(trialBytes)
	if err != nil {
		return fmt.Errorf("load trials: %w", err)
	}
	log.Infow("loaded inputs", "trials", len(trialSet), "patient", patientPath)

	st, err := store.Load(outputPath)
	if err != nil {
		return err
	}
	opts := eval.Options{TopN: topN}
	if previousOutput != "" {
		opts.Previous, err = store.Load(previousOutput)
		if err != nil {
			return err
		}
		if opts.Previous.Len() == 0 {
			return fmt.Errorf("previous output %s is empty or missing", previousOutput)
		}
	}

	model, err := eval.NewGeminiAgent(ctx, apiKey, modelName)
	if err != nil {
		return err
	}
	defer func() {
		if err := model.Close(ctx); err != nil {
			log.Warnw("failed to clean up model session", "error", err)
		}
	}()

	evaluator := &eval.Evaluator{
		Model:     model,
		Store:     st,
		Log:       log,
		ModelName: modelName,
	}

	if dbURL := os.Getenv("DB_URL"); dbURL != "" {
		mirror, err := store.OpenMirror(dbURL, patientKey(patientPath))
		if err != nil {
			return err
		}
		defer mirror.Close()
		evaluator.Mirror = mirror
	}

	var publisher *notify.Publisher
	if amqpURL := os.Getenv("RABBITMQ_URL"); amqpURL != "" {
		publisher, err = notify.Dial(amqpURL, uuid.NewString())
		if err != nil {
			return err
		}
		defer publisher.Close()
		publish(log, publisher, "processing", "evaluation started")
	}

	sum, runErr := evaluator.Run(ctx, patientText, trialSet, opts)
	if runErr != nil {
		publish(log, publisher, "failed", runErr.Error())
		return runErr
	}
	// Make sure the output file exists even when every trial was skipped.
	if err := st.Save(); err != nil {
		publish(log, publisher, "failed", err.Error())
		return err
	}
	publish(log, publisher, "completed", "evaluation completed")

	log.Infow("all trials processed",
		"output", outputPath,
		"evaluated", sum.Evaluated,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"unparseable", sum.Unparseable,
	)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	inputPath, csvPath := args[0], args[1]
	log := logger.Sugar()

	if _, err := os.Stat(inputPath); err != nil {
		return fmt.Errorf("output store %s: %w", inputPath, err)
	}
	st, err := store.Load(inputPath)
	if err != nil {
		return err
	}

	f, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}
	defer f.Close()

	if err := export.WriteCSV(f, st); err != nil {
		return err
	}
	log.Infow("saved csv", "path", csvPath, "rows", st.Len())
	return nil
}

func patientKey(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func publish(log *zap.SugaredLogger, p *notify.Publisher, status, message string) {
	if p == nil {
		return
	}
	if err := p.Publish(status, message); err != nil {
		log.Warnw("failed to publish run update", "status", status, "error", err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
