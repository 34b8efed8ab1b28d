package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"devgate/internal/config"
	"devgate/internal/store"
	"devgate/internal/supervisor"
)

// command implements the CLI subcommands against either the admin API of
// a running daemon or, for status, the persisted process table.
type command struct {
	flags *GlobalFlags
}

func (c command) client() (*APIClient, error) {
	base := c.flags.APIUrl
	if base == "" {
		fc, err := config.Load(c.flags.ConfigPath)
		if err != nil {
			return nil, err
		}
		if fc.Server.AdminAddr == "" {
			return nil, fmt.Errorf("no admin_addr configured and no --api-url given")
		}
		base = "http://" + fc.Server.AdminAddr + "/api"
	}
	return NewAPIClient(base, c.flags.APITimeout), nil
}

func (c command) Init() error {
	path := c.flags.ConfigPath
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, not overwriting", path)
	}
	if err := config.WriteExample(path); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

func (c command) Status(domain string) error {
	client, err := c.client()
	if err == nil && client.IsReachable() {
		if domain != "" {
			snap, err := client.Status(domain)
			if err != nil {
				return err
			}
			printSnapshots([]supervisor.Snapshot{snap})
			return nil
		}
		snaps, err := client.StatusAll()
		if err != nil {
			return err
		}
		printSnapshots(snaps)
		return nil
	}
	return c.statusFromStore(domain)
}

// statusFromStore reads the last persisted table when no daemon answers.
func (c command) statusFromStore(domain string) error {
	fc, err := config.Load(c.flags.ConfigPath)
	if err != nil {
		return err
	}
	st, err := store.New(fc.Store)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("daemon not reachable and no store configured")
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	recs, err := st.GetAll(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tSTATE\tMODE\tPID\tPORT\tUPDATED")
	for _, rec := range recs {
		if domain != "" && rec.Domain != domain {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			rec.Domain, rec.State, rec.Mode, rec.PID, rec.Port,
			rec.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Fprintln(os.Stderr, "(daemon not reachable, showing last persisted state)")
	return w.Flush()
}

func printSnapshots(snaps []supervisor.Snapshot) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tSTATE\tMODE\tPID\tPORT\tLAST ACCESS")
	for _, s := range snaps {
		last := "-"
		if !s.LastAccess.IsZero() {
			last = s.LastAccess.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", s.Domain, s.State, s.Mode, s.PID, s.Port, last)
	}
	_ = w.Flush()
}

func (c command) List() error {
	fc, err := config.Load(c.flags.ConfigPath)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tKIND\tPORT\tCOMMAND")
	for _, p := range fc.Projects {
		fmt.Fprintf(w, "%s\tproject\t%s\t%s\n", p.Domain, p.Port, p.Command)
	}
	for _, m := range fc.Mappings {
		fmt.Fprintf(w, "%s\tmapping\t%d\t-\n", m.Domain, m.Port)
	}
	return w.Flush()
}

func (c command) Start(domain string, manual bool) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	if err := client.Start(domain, manual); err != nil {
		return err
	}
	fmt.Printf("started %s\n", domain)
	return nil
}

func (c command) Stop(domain string, force bool) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	if err := client.Stop(domain, force); err != nil {
		return err
	}
	fmt.Printf("stopped %s\n", domain)
	return nil
}

func (c command) Restart(domain string) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	if err := client.Restart(domain); err != nil {
		return err
	}
	fmt.Printf("restarted %s\n", domain)
	return nil
}

func (c command) Reload() error {
	client, err := c.client()
	if err != nil {
		return err
	}
	if err := client.Reload(); err != nil {
		return err
	}
	fmt.Println("config reloaded")
	return nil
}
