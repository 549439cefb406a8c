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
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(os.Args[2:])
	case "build":
		err = runBuild(os.Args[2:])
	case "install":
		err = runInstall(os.Args[2:])
	case "copy":
		err = runCopy(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "dump-msgpack":
		err = runDumpMsgpack(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "storectl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: storectl <init|build|install|copy|serve|dump-msgpack> [flags]")
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	root := fs.String("root", "./store", "store root directory")
	fs.Parse(args)

	st, err := store.Init(*root)
	if err != nil {
		return err
	}
	fmt.Printf("initialized store at %s\n", st.Root())
	return nil
}

func runBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	root := fs.String("root", "./store", "store root directory")
	source := fs.String("source", "", "directory to capture as a package (required)")
	name := fs.String("name", "", "package name (required)")
	system := fs.String("system", "", "target platform triple, e.g. x86_64-linux-gnu (required)")
	fs.Parse(args)

	if *source == "" || *name == "" || *system == "" {
		return fmt.Errorf("-source, -name, and -system are all required")
	}

	platform, err := store.ParsePlatform(*system)
	if err != nil {
		return err
	}

	st, err := store.Open(*root)
	if err != nil {
		return err
	}

	pkg, err := st.BuildPackageFromSource(*source, *name, platform, nil)
	if err != nil {
		return err
	}
	fmt.Printf("built package %s\n", pkg.InstallName())
	return nil
}

func runInstall(args []string) error {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	root := fs.String("root", "./store", "store root directory")
	id := fs.String("id", "", "package object id (required)")
	fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	pkgID, err := store.ParseObjectId(*id)
	if err != nil {
		return err
	}

	st, err := store.Open(*root)
	if err != nil {
		return err
	}
	pkg, err := store.GetPackage(st, pkgID)
	if err != nil {
		return err
	}
	if err := st.Instantiate(st, pkg); err != nil {
		return err
	}
	fmt.Println(st.Path(pkg))
	return nil
}

func runCopy(args []string) error {
	fs := flag.NewFlagSet("copy", flag.ExitOnError)
	srcRoot := fs.String("src", "", "source store root (required)")
	dstRoot := fs.String("dst", "", "destination store root (required)")
	ids := fs.String("packages", "", "comma-separated package object ids to copy (required)")
	fs.Parse(args)

	if *srcRoot == "" || *dstRoot == "" || *ids == "" {
		return fmt.Errorf("-src, -dst, and -packages are all required")
	}

	pkgIDs, err := parseIDList(*ids)
	if err != nil {
		return err
	}

	src, err := store.Open(*srcRoot)
	if err != nil {
		return err
	}
	dst, err := store.Open(*dstRoot)
	if err != nil {
		return err
	}

	delta, err := store.CopyClosure(store.NewLocalSource(src), store.AsDestination(dst), pkgIDs, nil)
	if err != nil {
		return err
	}
	fmt.Printf("copied %d object(s), %d package(s) already present\n", len(delta.Missing), delta.NumPresent)
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	root := fs.String("root", "./store", "store root directory")
	addr := fs.String("addr", ":7777", "listen address")
	fs.Parse(args)

	st, err := store.Open(*root)
	if err != nil {
		return err
	}

	srv := store.NewServer(st)
	fmt.Printf("serving %s on %s\n", *root, *addr)
	return srv.ListenAndServe(context.Background(), *addr)
}

func runDumpMsgpack(args []string) error {
	fs := flag.NewFlagSet("dump-msgpack", flag.ExitOnError)
	root := fs.String("root", "./store", "store root directory")
	id := fs.String("id", "", "object id (required)")
	fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	objID, err := store.ParseObjectId(*id)
	if err != nil {
		return err
	}

	st, err := store.Open(*root)
	if err != nil {
		return err
	}

	payload, err := store.DumpMsgpack(st, objID, nil)
	if err != nil {
		return err
	}
	os.Stdout.Write(payload)
	return nil
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
