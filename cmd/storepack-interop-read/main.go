// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	store "github.com/ebkalderon/storepack"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7777", "server address")
	ids := flag.String("packages", "", "comma-separated package object ids")
	flag.Parse()

	if *ids == "" {
		fmt.Fprintln(os.Stderr, "-packages is required")
		os.Exit(1)
	}

	pkgIDs, err := parseIDList(*ids)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse ids: %v\n", err)
		os.Exit(1)
	}

	client, err := store.Dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	delta, err := client.FindMissing(context.Background(), pkgIDs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "find missing error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("num_present=%d missing=%d\n", delta.NumPresent, len(delta.Missing))
	for _, node := range delta.Missing {
		fmt.Println(node.String())
	}
}

func parseIDList(s string) ([]store.ObjectId, error) {
	parts := strings.Split(s, ",")
	ids := make([]store.ObjectId, 0, len(parts))
	for _, p := range parts {
		id, err := store.ParseObjectId(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
