// empictl is the operations tool for empi-engine. It works directly against
// the engine database with the same processors the server runs, so batches
// posted here are audited and matched exactly like API traffic, and the tool
// keeps working while the server is down.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/empiworks/empi-engine/pkg/config"
	"github.com/empiworks/empi-engine/pkg/database"
	"github.com/empiworks/empi-engine/pkg/logging"
	"github.com/empiworks/empi-engine/pkg/models"
	"github.com/empiworks/empi-engine/pkg/repositories"
	"github.com/empiworks/empi-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "0.1.0"

var cfgPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "empictl",
		Short:         "Operations tool for the EMPI identity engine",
		Long:          `empictl posts batches, queries records, seeds score batteries, and rebuilds the schema against the empi-engine database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"path to config.yaml (default $EMPI_CONFIG, then config.yaml)")

	rootCmd.AddCommand(createDBCmd())
	rootCmd.AddCommand(createPostCmd())
	rootCmd.AddCommand(createGetCmd())
	rootCmd.AddCommand(createSeedBatteriesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := cfgPath
	if path == "" {
		path = os.Getenv("EMPI_CONFIG")
	}
	if path == "" {
		path = "config.yaml"
	}
	return config.Load(path, Version)
}

// engineEnv assembles the processors against the configured database, the
// same wiring the server does minus the HTTP layer.
type engineEnv struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *database.DB
	ids       repositories.IDRepository
	batteries repositories.BatteryRepository
	auditor   services.Auditor
	procs     services.Processors
}

func openEngine(ctx context.Context) (*engineEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		return nil, err
	}

	db, err := database.NewConnection(ctx, cfg.Database.URL(), cfg.Database.MaxConnections)
	if err != nil {
		return nil, fmt.Errorf("%s", logging.SanitizeError(err))
	}

	ids := repositories.NewIDRepository(db, cfg.Version)
	demographics := repositories.NewDemographicRepository(db)
	telecoms := repositories.NewTelecomRepository(db)
	enterprise := repositories.NewEnterpriseRepository(db)
	actionLogs := repositories.NewActionLogRepository(db)
	crosswalks := repositories.NewCrosswalkRepository(db)
	queries := repositories.NewQueryRepository(db)
	batteries := repositories.NewBatteryRepository(db)

	engine := services.NewMatchEngine(demographics, batteries, cfg.Matching, logger)
	cursor := services.NewGraphCursor(ids, enterprise, nil, cfg.Matching.Threshold, cfg.Graph.ExportDir, logger)
	procs := services.NewProcessors(ids, demographics, telecoms, enterprise, actionLogs,
		crosswalks, queries, engine, cursor, cfg.Matching.Threshold, logger)
	auditor := services.NewAuditor(ids, repositories.NewAuditRepository(db), logger)

	return &engineEnv{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		ids:       ids,
		batteries: batteries,
		auditor:   auditor,
		procs:     procs,
	}, nil
}

func (e *engineEnv) Close() {
	e.db.Close()
	e.logger.Sync() //nolint:errcheck
}

// createDBCmd drops the schema and reapplies every migration.
func createDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-db",
		Short: "Drop and rebuild the engine schema",
		Long:  `Drops every table in the configured database and reapplies all migrations. Destroys all data.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Env)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, err := sql.Open("pgx", cfg.Database.URL())
			if err != nil {
				return fmt.Errorf("%s", logging.SanitizeError(err))
			}
			defer db.Close() //nolint:errcheck

			if err := database.RecreateSchema(db, cfg.Database.MigrationsPath, logger); err != nil {
				return err
			}
			fmt.Println("Schema rebuilt")
			return nil
		},
	}
}

// createPostCmd runs one batch through the processors. Flags cover the
// common actions; anything else takes its body from --payload.
func createPostCmd() *cobra.Command {
	var (
		user         string
		testMode     bool
		payloadFile  string
		recordID     int64
		recordIDLow  int64
		recordIDHigh int64
		batchID      int64
		procID       int64
		action       string
	)

	cmd := &cobra.Command{
		Use:   "post [endpoint]",
		Short: "Run a batch against an action endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint := args[0]

			payload := map[string]any{"user": user}
			switch endpoint {
			case services.ActionDemographic:
				if testMode {
					payload["demographics"] = []any{}
				}
			case services.ActionDeleteAction:
				payload["batch_id"] = batchID
				payload["proc_id"] = procID
				payload["action"] = action
			case services.ActionActivateDemographic,
				services.ActionDeactivateDemographic,
				services.ActionDeleteDemographic:
				payload["record_id"] = recordID
			case services.ActionMatchAffirm, services.ActionMatchDeny:
				payload["record_id_low"] = recordIDLow
				payload["record_id_high"] = recordIDHigh
			}

			if payloadFile != "" {
				raw, err := os.ReadFile(payloadFile)
				if err != nil {
					return err
				}
				var fromFile map[string]any
				if err := json.Unmarshal(raw, &fromFile); err != nil {
					return fmt.Errorf("%s is not valid JSON: %w", payloadFile, err)
				}
				for k, v := range fromFile {
					payload[k] = v
				}
			} else if endpoint == services.ActionDemographic && !testMode {
				return errors.New("demographic requires --payload or --test")
			}

			body, err := json.Marshal(payload)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			env, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			batch, err := env.auditor.Begin(ctx, endpoint, user)
			if err != nil {
				return err
			}

			result, err := env.procs.Run(ctx, endpoint, body, batch)
			batch.Close(ctx, err)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "CLI", "named system user")
	cmd.Flags().BoolVar(&testMode, "test", false, "post an empty demographics list for smoke testing")
	cmd.Flags().StringVar(&payloadFile, "payload", "", "JSON file with the request body")
	cmd.Flags().Int64Var(&recordID, "record_id", 0, "targeted demographic record")
	cmd.Flags().Int64Var(&recordIDLow, "record_id_low", 0, "low record of a match pair")
	cmd.Flags().Int64Var(&recordIDHigh, "record_id_high", 0, "high record of a match pair")
	cmd.Flags().Int64Var(&batchID, "batch_id", 0, "targeted batch key")
	cmd.Flags().Int64Var(&procID, "proc_id", 0, "targeted process key")
	cmd.Flags().StringVar(&action, "action", "", "a named behavior")

	return cmd
}

// createGetCmd queries an endpoint's records with equality filters, one JSON
// row per line.
func createGetCmd() *cobra.Command {
	filterFlags := []string{
		"action", "batch_id", "city", "etl_id", "family_name", "gender",
		"given_name", "middle_name", "name_day", "postal_code", "proc_id",
		"record_id", "record_id_high", "record_id_low", "state",
		"transaction_key",
	}
	values := make(map[string]*string, len(filterFlags))

	cmd := &cobra.Command{
		Use:   "get [endpoint]",
		Short: "Query an endpoint's records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := make(map[string]any)
			for name, value := range values {
				if cmd.Flags().Changed(name) {
					filters[name] = coerceFilter(*value)
				}
			}

			ctx := cmd.Context()
			env, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			rows, err := env.procs.QueryRecords(ctx, args[0], filters)
			if err != nil {
				return err
			}

			for _, row := range rows {
				out, err := json.Marshal(row)
				if err != nil {
					return err
				}
				fmt.Println(string(out))
			}
			return nil
		},
	}

	for _, name := range filterFlags {
		var v string
		values[name] = &v
		cmd.Flags().StringVar(&v, name, "", "targeted "+name)
	}

	return cmd
}

// coerceFilter types a flag value the way query parameters are typed:
// integer, then float, then bool, then string.
func coerceFilter(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// seedFile is the YAML layout seed-batteries reads: a flat list of score
// tests and the batteries that group them by test name.
type seedFile struct {
	Tests []struct {
		TestName  string  `yaml:"test_name"`
		Metric    string  `yaml:"metric"`
		Threshold string  `yaml:"threshold"`
		Operator  string  `yaml:"operator"`
		Weight    float64 `yaml:"weight"`
	} `yaml:"tests"`
	Batteries []struct {
		Name  string   `yaml:"name"`
		Tests []string `yaml:"tests"`
	} `yaml:"batteries"`
}

// createSeedBatteriesCmd loads score tests and batteries from a YAML file.
func createSeedBatteriesCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "seed-batteries [file]",
		Short: "Load score tests and batteries from a YAML file",
		Long: `Upserts every test in the file by name and binds them into their
batteries. Rerunning the same file is safe.

File layout:

  tests:
    - test_name: family_name_jw
      metric: family_name.jaro_winkler
      threshold: "0.92"
      operator: ge
      weight: 0.35
    - test_name: name_day_equal
      metric: name_day.equal
      threshold: "true"
      operator: eq
      weight: 0.25
  batteries:
    - name: default
      tests: [family_name_jw, name_day_equal]`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			var seed seedFile
			if err := yaml.Unmarshal(raw, &seed); err != nil {
				return fmt.Errorf("%s is not valid YAML: %w", args[0], err)
			}

			for _, t := range seed.Tests {
				if !models.IsValidOp(t.Operator) {
					return fmt.Errorf("test %s: operator must be one of %v, got %q",
						t.TestName, models.ValidOps, t.Operator)
				}
			}

			ctx := cmd.Context()
			env, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			for _, t := range seed.Tests {
				etlID, err := env.ids.NextID(ctx, user)
				if err != nil {
					return err
				}
				test := &models.ScoreTest{
					ETLID:     etlID,
					TestName:  t.TestName,
					Metric:    t.Metric,
					Threshold: t.Threshold,
					Operator:  t.Operator,
					Weight:    t.Weight,
					TouchedBy: user,
				}
				if err := env.batteries.UpsertTest(ctx, test); err != nil {
					return err
				}
			}
			fmt.Printf("Loaded %d score tests\n", len(seed.Tests))

			bound := 0
			for _, b := range seed.Batteries {
				for _, testName := range b.Tests {
					etlID, err := env.ids.NextID(ctx, user)
					if err != nil {
						return err
					}
					if err := env.batteries.BindTest(ctx, etlID, b.Name, testName, user); err != nil {
						return err
					}
					bound++
				}
			}
			fmt.Printf("Bound %d tests into %d batteries\n", bound, len(seed.Batteries))
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "CLI", "named system user")

	return cmd
}
