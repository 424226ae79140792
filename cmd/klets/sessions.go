package main

import (
	"fmt"

	"github.com/kletsmajoor/klets/pkg/config"
	"github.com/kletsmajoor/klets/pkg/session"
)

// SessionsCmd manages stored sessions.
type SessionsCmd struct {
	List   SessionsListCmd   `cmd:"" help:"List stored sessions."`
	Delete SessionsDeleteCmd `cmd:"" help:"Delete a stored session."`
}

type SessionsListCmd struct{}

func (c *SessionsListCmd) Run(cli *CLI) error {
	store, err := openStore(cli)
	if err != nil {
		return err
	}

	ids, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("Geen sessies gevonden.")
		return nil
	}

	for _, id := range ids {
		mem, err := store.Load(id)
		if err != nil {
			fmt.Printf("%s  (onleesbaar: %v)\n", id, err)
			continue
		}
		fmt.Printf("%s  berichten=%d  onderwerpen=%d  bijgewerkt=%s\n",
			id, mem.MessageCount, len(mem.QAIndex), mem.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

type SessionsDeleteCmd struct {
	ID string `arg:"" help:"Session id to delete."`
}

func (c *SessionsDeleteCmd) Run(cli *CLI) error {
	store, err := openStore(cli)
	if err != nil {
		return err
	}

	deleted, err := store.Delete(c.ID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if deleted {
		fmt.Printf("Sessie %s verwijderd.\n", c.ID)
	} else {
		fmt.Printf("Sessie %s bestond niet.\n", c.ID)
	}
	return nil
}

// openStore resolves the sessions directory from config when available.
// Admin commands work without a valid LLM configuration.
func openStore(cli *CLI) (*session.FileStore, error) {
	dir := "./sessions"
	if cfg, err := config.LoadOrDefault(cli.Config); err == nil {
		dir = cfg.Sessions.Dir
	}
	return session.NewFileStore(dir)
}
