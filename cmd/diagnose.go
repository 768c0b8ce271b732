package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/brandscan/internal/config"
	"github.com/sells-group/brandscan/internal/model"
)

var (
	diagnoseBrand       string
	diagnoseCompetitors []string
	diagnoseQuestions   string
	diagnoseFamilies    []string
	diagnoseWait        bool
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Run a brand visibility diagnosis",
	Long:  "Expands the question set across the given model families, collects and cleans every answer, and reports mention shares and competitor gaps.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		set, err := config.LoadQuestionSet(diagnoseQuestions)
		if err != nil {
			return err
		}

		families := diagnoseFamilies
		if len(families) == 0 {
			for f := range cfg.Families {
				families = append(families, f)
			}
		}

		runID, err := env.Engine.StartRun(ctx, model.DiagnosisConfig{
			Brand:       diagnoseBrand,
			Competitors: diagnoseCompetitors,
			Questions:   set.Questions,
			Families:    families,
		})
		if err != nil {
			return eris.Wrap(err, "start run")
		}

		zap.L().Info("diagnosis started",
			zap.String("run_id", runID),
			zap.String("question_set", set.Name),
			zap.Strings("families", families),
		)

		if !diagnoseWait {
			return json.NewEncoder(os.Stdout).Encode(map[string]string{"run_id": runID})
		}

		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}

			snap, err := env.Engine.GetStatus(ctx, runID)
			if err != nil {
				return eris.Wrap(err, "get status")
			}
			zap.L().Debug("run progress",
				zap.String("stage", snap.Stage),
				zap.Int("completed", snap.CompletedTasks),
				zap.Int("total", snap.TotalTasks),
			)
			if !snap.Status.Terminal() {
				continue
			}

			report, err := env.Engine.GetReport(ctx, runID)
			if err != nil {
				return eris.Wrap(err, "get report")
			}

			zap.L().Info("diagnosis finished",
				zap.String("run_id", runID),
				zap.String("status", string(snap.Status)),
				zap.Int("succeeded_tasks", report.SucceededTasks),
				zap.Int("failed_tasks", report.FailedTasks),
			)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
	},
}

func init() {
	diagnoseCmd.Flags().StringVar(&diagnoseBrand, "brand", "", "brand to diagnose (required)")
	diagnoseCmd.Flags().StringSliceVar(&diagnoseCompetitors, "competitor", nil, "competitor brand (repeatable)")
	diagnoseCmd.Flags().StringVar(&diagnoseQuestions, "questions", "questions.yaml", "path to question set YAML")
	diagnoseCmd.Flags().StringSliceVar(&diagnoseFamilies, "family", nil, "model family to query (repeatable, default all configured)")
	diagnoseCmd.Flags().BoolVar(&diagnoseWait, "wait", true, "block until the run finishes and print the report")
	_ = diagnoseCmd.MarkFlagRequired("brand")
	rootCmd.AddCommand(diagnoseCmd)
}
