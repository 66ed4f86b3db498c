package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kiyor/k2share/pkg/fetch"
	"github.com/kiyor/k2share/pkg/token"
)

func runGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	c := fetch.New(args[0])

	if getList {
		l, err := c.List(ctx, getPath)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, l.Index)
		for _, e := range l.Dirs {
			fmt.Fprintf(w, "%s/\t\t%s\t%s\n", e.DisplayName, e.ModifiedLabel, e.NavigationToken)
		}
		for _, e := range l.Files {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.DisplayName, e.SizeLabel, e.ModifiedLabel, e.NavigationToken)
		}
		return w.Flush()
	}

	var (
		p   string
		err error
	)
	if getPath != "" {
		p, err = c.Download(ctx, getPath, getOut)
	} else {
		p, err = c.Served(ctx, getOut, getLatest)
	}
	if err != nil {
		return err
	}
	fmt.Println(p)
	return nil
}

func runTokenEncode(cmd *cobra.Command, args []string) error {
	p, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	fmt.Println(token.Encode(p))
	return nil
}

func runTokenDecode(cmd *cobra.Command, args []string) error {
	p, err := token.Decode(args[0])
	if err != nil {
		return err
	}
	fmt.Println(p)
	return nil
}
