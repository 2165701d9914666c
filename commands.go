package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/mailvault/mailvault/internal/cron"
	"github.com/mailvault/mailvault/internal/models"
	"github.com/mailvault/mailvault/internal/repository"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "run database migrations",
		Action: func(c *cli.Context) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			if err := repository.MigrateDB(rt.cfg.DatabaseConfig, rt.db); err != nil {
				return errors.Wrap(err, "database migration failed")
			}
			rt.log.Info("Database migration completed")
			return nil
		},
	}
}

func accountCommand() *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "manage archived accounts",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "register a mailbox account after verifying its credentials",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "mailbox login", Required: true},
					&cli.StringFlag{Name: "password", Usage: "mailbox password", Required: true},
				},
				Action: func(c *cli.Context) error {
					rt, err := newRuntime()
					if err != nil {
						return err
					}
					defer rt.close()
					ctx := context.Background()

					account := &models.Account{
						User:     c.String("user"),
						Password: c.String("password"),
					}

					// Verify the credentials before persisting anything
					sess, err := rt.client.Connect(ctx, account, "")
					if err != nil {
						return errors.Wrapf(err, "cannot connect as %s", account.User)
					}
					folders, err := sess.ListFolders(ctx)
					sess.Close()
					if err != nil {
						return errors.Wrap(err, "connected but folder listing failed")
					}

					id, err := rt.repositories.AccountRepository.Create(ctx, account)
					if err != nil {
						if errors.Is(err, repository.ErrAccountAlreadyExists) {
							return errors.Errorf("account %s is already registered", account.User)
						}
						return err
					}

					rt.log.Infof("Account %s registered as %s (%d folders visible)", account.User, id, len(folders))
					return nil
				},
			},
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "register every message of every folder as a mail record",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "sync only this account"},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()
			ctx := context.Background()

			accounts, err := resolveAccounts(ctx, rt, c.String("user"))
			if err != nil {
				return err
			}

			for _, account := range accounts {
				if err := rt.syncer.SyncAccount(ctx, account); err != nil {
					return errors.Wrapf(err, "sync failed for account %s", account.User)
				}
			}
			return nil
		},
	}
}

func downloadCommand() *cli.Command {
	return &cli.Command{
		Name:  "download",
		Usage: "download pending mails until the account archive is complete",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "account to download; all incomplete accounts when omitted"},
			&cli.IntFlag{Name: "concurrency", Usage: "worker processes per page (overrides DOWNLOAD_CONCURRENCY)"},
			&cli.IntFlag{Name: "page-limit", Usage: "pending mails per pass (overrides DOWNLOAD_PAGE_LIMIT)"},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()
			ctx := context.Background()

			var accounts []*models.Account
			if user := c.String("user"); user != "" {
				account, err := rt.repositories.AccountRepository.GetByUser(ctx, user)
				if err != nil {
					return err
				}
				accounts = append(accounts, account)
			} else {
				accounts, err = rt.repositories.AccountRepository.ListIncomplete(ctx)
				if err != nil {
					return err
				}
				if len(accounts) == 0 {
					rt.log.Info("All accounts fully downloaded, nothing to do")
					return nil
				}
			}

			pageLimit := rt.cfg.AppConfig.PageLimit
			if c.Int("page-limit") > 0 {
				pageLimit = c.Int("page-limit")
			}
			concurrency := rt.cfg.AppConfig.Concurrency
			if c.Int("concurrency") > 0 {
				concurrency = c.Int("concurrency")
			}

			for _, account := range accounts {
				if account.Completed() {
					rt.log.Infof("Account %s already fully downloaded at %s", account.User, account.CompletedAt)
					continue
				}
				if err := rt.downloads.Run(ctx, account, pageLimit, concurrency); err != nil {
					return errors.Wrapf(err, "download failed for account %s", account.User)
				}
			}
			return nil
		},
	}
}

// downloadBatchCommand is the hidden worker entry the parallel orchestrator
// spawns. Operators never call it directly.
func downloadBatchCommand() *cli.Command {
	return &cli.Command{
		Name:   "download-batch",
		Hidden: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "account", Required: true},
			&cli.StringFlag{Name: "folder", Required: true},
			&cli.StringFlag{Name: "mails", Usage: "comma separated mail record ids", Required: true},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			mailIDs := strings.Split(c.String("mails"), ",")
			return rt.downloads.RunBatch(context.Background(), c.String("account"), c.String("folder"), mailIDs)
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "report archive progress per account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "report only this account"},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()
			ctx := context.Background()

			accounts, err := resolveAccounts(ctx, rt, c.String("user"))
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Account", "Total", "Downloaded", "Pending", "Orphans", "Progress", "Completed"})

			for _, account := range accounts {
				stats, err := rt.repositories.MailRepository.StatsByAccount(ctx, account.ID)
				if err != nil {
					return err
				}

				progress := "0.0%"
				if stats.Total > 0 {
					progress = fmt.Sprintf("%.1f%%", float64(stats.Downloaded)/float64(stats.Total)*100)
				}
				completed := "-"
				if account.CompletedAt != nil {
					completed = account.CompletedAt.Format("2006-01-02 15:04")
				}
				table.Append([]string{
					account.User,
					strconv.FormatInt(stats.Total, 10),
					strconv.FormatInt(stats.Downloaded, 10),
					strconv.FormatInt(stats.Total-stats.Downloaded, 10),
					strconv.FormatInt(stats.Orphans, 10),
					progress,
					completed,
				})
			}
			table.Render()

			if c.String("user") == "" {
				total, err := rt.repositories.AccountRepository.Count(ctx)
				if err != nil {
					return err
				}
				done, err := rt.repositories.AccountRepository.CountCompleted(ctx)
				if err != nil {
					return err
				}
				global, err := rt.repositories.MailRepository.GlobalStats(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%d/%d accounts complete, %d/%d mails downloaded (%d orphans)\n",
					done, total, global.Downloaded, global.Total, global.Orphans)
			}
			return nil
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "run scheduled sync and download passes until interrupted",
		Action: func(c *cli.Context) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			manager := cron.NewCronManager(rt.cfg, rt.log, rt.repositories.AccountRepository, rt.syncer, rt.downloads)
			manager.StartCron()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			rt.log.Info("Shutting down")
			manager.Stop()
			return nil
		},
	}
}

func resolveAccounts(ctx context.Context, rt *runtime, user string) ([]*models.Account, error) {
	if user != "" {
		account, err := rt.repositories.AccountRepository.GetByUser(ctx, user)
		if err != nil {
			return nil, err
		}
		return []*models.Account{account}, nil
	}

	accounts, err := rt.repositories.AccountRepository.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, errors.New("no accounts registered; run account add first")
	}
	return accounts, nil
}
