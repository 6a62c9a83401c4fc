// cdr-batch — пакетные задания CDR Core: загрузка реестра партнёров,
// сверка концептов NCI Thesaurus, импорт протоколов, очистка очередей
// перевода, миграции и построение манифеста клиентских файлов.
//
// Каждая команда печатает в stdout JSON-отчёт с идентификатором запуска.
// Код выхода 1 — только при фатальной ошибке; ошибки по отдельным
// документам входят в отчёт.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/bigkaa/cdrcore/internal/app"
	"github.com/bigkaa/cdrcore/internal/config"
	"github.com/bigkaa/cdrcore/internal/database"
	"github.com/bigkaa/cdrcore/internal/domain/model"
	"github.com/bigkaa/cdrcore/internal/domain/translation"
	"github.com/bigkaa/cdrcore/internal/manifest"
	"github.com/bigkaa/cdrcore/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newApp().RunContext(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cdr-batch:", err)
		os.Exit(1)
	}
}

// report — JSON-отчёт запуска команды.
type report struct {
	RunID      string    `json:"run_id"`
	Command    string    `json:"command"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Result     any       `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "cdr-batch",
		Usage:   "пакетные задания CDR Core",
		Version: config.Version,
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "применить миграции БД",
				Action: withConfig(runMigrate),
			},
			{
				Name:  "load-partners",
				Usage: "заменить реестр партнёров PDQ содержимым файла",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "файл реестра", Required: true},
					&cli.StringSliceFlag{Name: "product", Aliases: []string{"p"}, Usage: "загружать только указанные продукты"},
				},
				Action: withApp(runLoadPartners),
			},
			{
				Name:  "reconcile-concept",
				Usage: "сверить Term-документ с концептом NCI Thesaurus",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "code", Aliases: []string{"c"}, Usage: "код концепта (C1234)"},
					&cli.IntFlag{Name: "doc-id", Usage: "id существующего Term-документа"},
					&cli.BoolFlag{Name: "all", Usage: "сверить все Term-документы с кодом концепта"},
				},
				Action: withApp(runReconcile),
			},
			{
				Name:  "import-protocols",
				Usage: "импортировать протоколы из внешнего источника",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Value: string(model.SourceCTGov), Usage: "ctgov или rss"},
					&cli.StringSliceFlag{Name: "id", Usage: "дополнительные внешние идентификаторы (NCT...)"},
				},
				Action: withApp(runImport),
			},
			{
				Name:  "purge-translation-jobs",
				Usage: "удалить задания в терминальном состоянии",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "family", Usage: "summary, media, glossary (по умолчанию все)"},
				},
				Action: withApp(runPurge),
			},
			{
				Name:  "build-manifest",
				Usage: "построить CdrManifest.xml по каталогу клиентских файлов",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dir", EnvVars: []string{"CDR_CLIENT_FILES_DIR"}, Required: true},
					&cli.StringFlag{Name: "application", Value: "CdrClient"},
					&cli.StringFlag{Name: "host", Usage: "хост тикета (по умолчанию имя машины)"},
					&cli.StringFlag{Name: "author", EnvVars: []string{"CDR_BATCH_USER"}, Value: "ImportUser"},
				},
				Action: runBuildManifest,
			},
		},
	}
}

// emit печатает отчёт. Фатальная ошибка попадает и в отчёт, и в код выхода.
func emit(c *cli.Context, runID string, started time.Time, result any, err error) error {
	rep := report{
		RunID:      runID,
		Command:    c.Command.Name,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Result:     result,
	}
	if err != nil {
		rep.Error = err.Error()
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(rep); encErr != nil {
		return errors.Join(err, encErr)
	}
	return err
}

type configAction func(c *cli.Context, cfg *config.Config, logger *slog.Logger) (any, error)

type appAction func(ctx context.Context, c *cli.Context, a *app.App, logger *slog.Logger) (any, error)

func withConfig(fn configAction) cli.ActionFunc {
	return func(c *cli.Context) error {
		runID, started := uuid.NewString(), time.Now().UTC()
		cfg, err := config.Load()
		if err != nil {
			return emit(c, runID, started, nil, err)
		}
		logger := config.SetupLogger(cfg).With(
			slog.String("run_id", runID),
			slog.String("command", c.Command.Name),
		)
		result, err := fn(c, cfg, logger)
		return emit(c, runID, started, result, err)
	}
}

// withApp собирает сервисы и запускает fn от имени пакетного пользователя.
func withApp(fn appAction) cli.ActionFunc {
	return withConfig(func(c *cli.Context, cfg *config.Config, logger *slog.Logger) (any, error) {
		a, err := app.New(c.Context, cfg, logger)
		if err != nil {
			return nil, err
		}
		defer a.Close()

		ctx := session.WithSession(c.Context, session.System(cfg.BatchUser))
		return fn(ctx, c, a, logger)
	})
}

func runMigrate(_ *cli.Context, cfg *config.Config, logger *slog.Logger) (any, error) {
	if err := database.Migrate(cfg, logger); err != nil {
		return nil, err
	}
	return map[string]string{"status": "ok"}, nil
}

func runLoadPartners(ctx context.Context, c *cli.Context, a *app.App, logger *slog.Logger) (any, error) {
	path := c.String("file")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение файла реестра: %w", err)
	}
	counts, err := a.Partners.LoadRegistry(ctx, data, c.StringSlice("product"))
	if err != nil {
		return nil, err
	}
	logger.Info("Реестр партнёров загружен",
		slog.String("file", path),
		slog.Int("contacts", counts.Contacts),
		slog.Int("skipped", counts.Skipped),
	)
	return counts, nil
}

func runReconcile(ctx context.Context, c *cli.Context, a *app.App, _ *slog.Logger) (any, error) {
	if c.Bool("all") {
		return a.Reconcile.RefreshAll(ctx)
	}
	if c.String("code") == "" {
		return nil, errors.New("укажите --code или --all")
	}
	var docID *int
	if c.IsSet("doc-id") {
		id := c.Int("doc-id")
		docID = &id
	}
	return a.Reconcile.ReconcileConcept(ctx, c.String("code"), docID)
}

func runImport(ctx context.Context, c *cli.Context, a *app.App, logger *slog.Logger) (any, error) {
	rep, err := a.Import.RunImport(ctx, model.ImportSource(c.String("source")), c.StringSlice("id"))
	if err != nil {
		return nil, err
	}
	logger.Info("Импорт протоколов завершён",
		slog.Int("job_id", rep.Job.ID),
		slog.String("status", rep.Job.Status),
		slog.Int("documents", len(rep.Outcomes)),
	)
	return rep, nil
}

type purgeResult struct {
	Family  translation.Family `json:"family"`
	Deleted int                `json:"deleted"`
}

func runPurge(ctx context.Context, c *cli.Context, a *app.App, _ *slog.Logger) (any, error) {
	families := translation.Families
	if names := c.StringSlice("family"); len(names) > 0 {
		families = nil
		for _, name := range names {
			f, err := translation.ParseFamily(name)
			if err != nil {
				return nil, err
			}
			families = append(families, f)
		}
	}

	results := make([]purgeResult, 0, len(families))
	for _, f := range families {
		n, err := a.Queue.PurgeTerminal(ctx, f)
		if err != nil {
			return results, fmt.Errorf("%s: %w", f, err)
		}
		results = append(results, purgeResult{Family: f, Deleted: n})
	}
	return results, nil
}

func runBuildManifest(c *cli.Context) error {
	runID, started := uuid.NewString(), time.Now().UTC()

	host := c.String("host")
	if host == "" {
		h, err := os.Hostname()
		if err != nil {
			return emit(c, runID, started, nil, fmt.Errorf("имя хоста: %w", err))
		}
		host = h
	}

	dir := c.String("dir")
	m, err := manifest.Build(dir, manifest.BuildOptions{
		Application: c.String("application"),
		Host:        host,
		Author:      c.String("author"),
		Now:         started,
	})
	if err == nil {
		err = manifest.WriteFile(dir, m)
	}
	if err != nil {
		return emit(c, runID, started, nil, err)
	}
	return emit(c, runID, started, map[string]any{
		"dir":      dir,
		"files":    len(m.Files),
		"checksum": m.Ticket.Checksum,
	}, nil)
}
