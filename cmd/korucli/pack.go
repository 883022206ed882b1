// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"time"

	"github.com/Zubo/obsidian-engine-sub000/asset"
	"github.com/Zubo/obsidian-engine-sub000/core"
	"github.com/Zubo/obsidian-engine-sub000/utility/kar"
	"golang.org/x/sync/errgroup"
)

func currentUserName() string {
	u, err := user.Current()
	if err != nil {
		return "unknown"
	}
	return u.Name
}

func runPack(args []string, out *printer) error {
	fset := flag.NewFlagSet("pack", flag.ExitOnError)
	author := fset.String("author", currentUserName(), "Set the author of the package")
	version := fset.Int64("version", 1, "Archive version number to create it with")
	dstFile := fset.String("f", "assets.kar", "Destination file")
	upload := fset.Bool("upload", false, "Also upload every asset to the configured bucket")
	envFile := fset.String("env", ".env", "Configuration file holding the bucket settings")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() != 1 {
		return errors.New("pack takes exactly one asset directory")
	}
	root := fset.Arg(0)

	names, err := assetFiles(root)
	if err != nil {
		return err
	}

	if _, err := os.Stat(*dstFile); err == nil {
		return errors.New("destination file exists, will not overwrite")
	}

	builder, err := kar.NewBuilder(kar.Header{
		Author:      *author,
		DateCreated: time.Now().Unix(),
		Version:     *version,
	})
	if err != nil {
		return err
	}
	defer builder.Close()

	var store *asset.ObjectSource
	if *upload {
		cfg, err := core.LoadConfiguration(*envFile)
		if err != nil {
			return err
		}
		if store, err = asset.NewObjectSource(cfg.Storage.Object); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(runtime.NumCPU())
	for _, name := range names {
		g.Go(func() error {
			return packFile(ctx, builder, store, root, name)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	dst, err := os.Create(*dstFile)
	if err != nil {
		return err
	}
	defer dst.Close()
	n, err := builder.WriteTo(dst)
	if err != nil {
		return err
	}
	out.ok("%s: %d assets, %d bytes", *dstFile, builder.Len(), n)
	return nil
}

// assetFiles lists every asset below root as slash separated relative paths.
func assetFiles(root string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || asset.TypeFromPath(p) == asset.Unknown {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		names = append(names, asset.CleanPath(filepath.ToSlash(rel)))
		return nil
	})
	return names, err
}

func packFile(ctx context.Context, b *kar.Builder, store *asset.ObjectSource, root, name string) error {
	path := filepath.Join(root, filepath.FromSlash(name))
	if store != nil {
		a, err := asset.LoadFromFile(path)
		if err != nil {
			return err
		}
		if err := store.Put(ctx, name, a); err != nil {
			return err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return b.Add(name, f)
}
