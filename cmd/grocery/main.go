package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"grocery-tracker/internal/client"
	"grocery-tracker/internal/models"
	"grocery-tracker/internal/prompt"
)

const usage = `Usage: grocery [flags] <command> [args]

Commands:
  register [PHONE]    create the account given by -user
  list                all items with their status
  soon                items expiring soon
  expired             items past their expiry date
  history             shopping history
  add NAME DAYS       add an item with a shelf life in days
  delete ID           delete an item
  recipes             recipe suggestions for your items

Flags:`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("grocery", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usage)
		fs.PrintDefaults()
	}

	server := fs.String("server", envOr("GROCERY_SERVER", "http://localhost:5000"), "Server URL")
	username := fs.String("user", os.Getenv("GROCERY_USER"), "Username")
	passwordFlag := fs.String("password", "", "Password (optional, will prompt if omitted)")
	timeout := fs.Duration("timeout", client.DefaultTimeout, "Timeout for each request")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("missing command")
	}
	if *username == "" {
		return fmt.Errorf("missing required flags: user")
	}

	password := *passwordFlag
	if password == "" {
		password = os.Getenv("GROCERY_PASSWORD")
	}
	if password == "" {
		var err error
		password, err = prompt.Password(stdin, stdout, "Password: ")
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
	}

	ctx := context.Background()
	c := client.New(*server, client.WithTimeout(*timeout))
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	if cmd == "register" {
		phone := ""
		if len(rest) > 0 {
			phone = rest[0]
		}
		if err := c.Register(ctx, *username, password, phone); err != nil {
			return describe(err)
		}
		fmt.Fprintf(stdout, "User %s registered\n", *username)
		return nil
	}

	app := client.NewApp(c)
	if err := app.Login(ctx, *username, password); err != nil {
		return describe(err)
	}
	views, _ := app.Views()

	switch cmd {
	case "list":
		printItems(stdout, views.Items)
	case "soon":
		printItems(stdout, views.ExpiringSoon)
	case "expired":
		printItems(stdout, views.Expired)
	case "history":
		printHistory(stdout, views.History)
	case "add":
		if len(rest) != 2 {
			return fmt.Errorf("usage: add NAME DAYS")
		}
		item, err := app.Add(ctx, rest[0], rest[1])
		if err != nil {
			return describe(err)
		}
		if item != nil {
			fmt.Fprintf(stdout, "Added %s (id %d), expires %s\n", item.Name, item.ID, item.ExpiryDate.Format(time.DateOnly))
		}
		views, _ = app.Views()
		printItems(stdout, views.ExpiringSoon)
	case "delete":
		if len(rest) != 1 {
			return fmt.Errorf("usage: delete ID")
		}
		id, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item id %q", rest[0])
		}
		if err := app.Delete(ctx, id); err != nil {
			return describe(err)
		}
		fmt.Fprintf(stdout, "Deleted item %d\n", id)
	case "recipes":
		found, err := app.SuggestRecipes(ctx)
		if err != nil {
			return describe(err)
		}
		if len(found) == 0 {
			fmt.Fprintln(stdout, "No recipes found")
		}
		for _, r := range found {
			fmt.Fprintf(stdout, "%s (uses %d, missing %d)\n", r.Title, r.UsedIngredientCount, r.MissedIngredientCount)
		}
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func printItems(w io.Writer, items []models.Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No items")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEXPIRES\tSTATUS")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", it.ID, it.Name, it.ExpiryDate.Format(time.DateOnly), it.Status)
	}
	tw.Flush()
}

func printHistory(w io.Writer, history []models.HistoryEntry) {
	if len(history) == 0 {
		fmt.Fprintln(w, "No purchases")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PURCHASED\tNAME")
	for _, h := range history {
		fmt.Fprintf(tw, "%s\t%s\n", h.PurchasedAt.Format(time.DateOnly), h.Name)
	}
	tw.Flush()
}

// describe turns client errors into messages for the terminal.
func describe(err error) error {
	var apiErr *client.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return errors.New(apiErr.Message)
	case errors.Is(err, client.ErrUnauthorized):
		return fmt.Errorf("session expired, please log in again: %w", err)
	default:
		return err
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
