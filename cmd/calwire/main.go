package main

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/dstephens/calwire/internal/alarm"
	"github.com/dstephens/calwire/internal/config"
	"github.com/dstephens/calwire/internal/database"
	"github.com/dstephens/calwire/internal/icalendar"
	"github.com/dstephens/calwire/internal/logging"
	"github.com/dstephens/calwire/internal/model"
	"github.com/dstephens/calwire/internal/reconcile"
	"github.com/dstephens/calwire/internal/store"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	cliApp := &cli.App{
		Name:  "calwire",
		Usage: "Import, export, and inspect calendar events.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to config file",
				EnvVars: []string{"CALWIRE_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			importCommand(),
			exportCommand(),
			nextCommand(),
			alarmCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		slog.Error("calwire failed", "error", err)
		os.Exit(1)
	}
}

type app struct {
	cfg   *config.Config
	db    *sql.DB
	store *store.EventStore
	rec   *reconcile.Reconciler
	codec *icalendar.Codec
	log   *slog.Logger
	env   model.Env
}

func openApp(c *cli.Context) (*app, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	st := store.NewEventStore(db)
	rec := reconcile.New(st, log)
	codec := icalendar.NewCodec(st, rec, log)
	codec.Attachments = cfg.AttachStore()

	env := model.NewEnv(os.Getenv("USER"))
	if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
		env.Location = loc
	}

	return &app{cfg: cfg, db: db, store: st, rec: rec, codec: codec, log: log, env: env}, nil
}

func (a *app) close() {
	a.db.Close()
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import events from an iCalendar or vCalendar file ('-' for stdin).",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "calendar", Usage: "target calendar id"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one input file")
			}
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.close()

			var r io.Reader = os.Stdin
			if path := c.Args().First(); path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				r = f
			}

			calendarID := c.String("calendar")
			if calendarID == "" {
				calendarID = a.cfg.CalendarID
			}

			events, err := a.codec.Import(c.Context, r, calendarID, a.env)
			if err != nil {
				return err
			}
			a.log.Info("import complete", "calendar", calendarID, "events", len(events))
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export events as calendar text on stdout.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "uid", Usage: "export a single event by uid"},
			&cli.StringFlag{Name: "calendar", Usage: "export every event of a calendar"},
			&cli.StringFlag{Name: "dialect", Value: "2.0", Usage: "wire dialect: 1.0 or 2.0"},
		},
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.close()

			dialect := icalendar.DialectV2
			if c.String("dialect") == "1.0" {
				dialect = icalendar.DialectV1
			}

			var events []*model.Event
			switch {
			case c.String("uid") != "":
				ev, err := a.store.GetByUID(c.String("uid"))
				if err != nil {
					return err
				}
				if ev == nil {
					return fmt.Errorf("event %s not found", c.String("uid"))
				}
				events = append(events, ev)
			default:
				calendarID := c.String("calendar")
				if calendarID == "" {
					calendarID = a.cfg.CalendarID
				}
				all, err := a.store.Search(store.Predicate{CalendarID: calendarID})
				if err != nil {
					return err
				}
				// Exception events ride along with their masters.
				for _, ev := range all {
					if ev.BaseUID == "" {
						events = append(events, ev)
					}
				}
			}

			return a.codec.Export(c.Context, os.Stdout, events, dialect, a.env)
		},
	}
}

func nextCommand() *cli.Command {
	return &cli.Command{
		Name:      "next",
		Usage:     "Print the next occurrence of an event after now.",
		ArgsUsage: "UID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one uid")
			}
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.close()

			ev, err := a.store.GetByUID(c.Args().First())
			if err != nil {
				return err
			}
			if ev == nil {
				return fmt.Errorf("event %s not found", c.Args().First())
			}

			if !ev.Recurs() {
				if ev.Start.After(a.env.Now) {
					fmt.Println(a.env.In(ev.Start).Format(time.RFC3339))
					return nil
				}
				fmt.Println("no further occurrence")
				return nil
			}

			occ, ok := ev.Rule.NextOccurrence(ev.Start, a.env.Now)
			if !ok {
				fmt.Println("no further occurrence")
				return nil
			}
			fmt.Println(a.env.In(occ).Format(time.RFC3339))
			return nil
		},
	}
}

func alarmCommand() *cli.Command {
	return &cli.Command{
		Name:      "alarm",
		Usage:     "Print the next alarm for an event.",
		ArgsUsage: "UID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one uid")
			}
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.close()

			ev, err := a.store.GetByUID(c.Args().First())
			if err != nil {
				return err
			}
			if ev == nil {
				return fmt.Errorf("event %s not found", c.Args().First())
			}

			d := alarm.Compute(ev, a.env)
			if d == nil {
				fmt.Println("no alarm")
				return nil
			}
			fmt.Printf("%s  %s\n", a.env.In(d.Trigger).Format(time.RFC3339), d.Title)
			if d.Body != "" {
				fmt.Println(d.Body)
			}
			return nil
		},
	}
}
