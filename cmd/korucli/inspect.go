// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"flag"
	"strings"
	"time"

	"github.com/Zubo/obsidian-engine-sub000/asset"
)

func runInspect(args []string, out *printer) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, name := range fs.Args() {
		var err error
		if strings.HasSuffix(strings.ToLower(name), ".kar") {
			err = inspectArchive(name, out)
		} else {
			err = inspectAsset(name, out)
		}
		if err != nil {
			out.fail("%s: %s", name, err)
			return err
		}
	}
	return nil
}

func inspectArchive(name string, out *printer) error {
	src, err := asset.OpenArchive(name)
	if err != nil {
		return err
	}
	defer src.Close()

	ar := src.Archive()
	h := ar.Header()
	out.title("%s", name)
	out.field("author", h.Author)
	out.field("created", time.Unix(h.DateCreated, 0).Format(time.RFC3339))
	out.field("version", h.Version)
	for _, e := range h.Index {
		out.field(e.Name, describeSizes(e.Size, e.CompressedSize))
	}
	return nil
}

func inspectAsset(name string, out *printer) error {
	a, err := asset.LoadFromFile(name)
	if err != nil {
		return err
	}
	out.title("%s", name)
	out.field("type", a.Type())
	out.field("version", a.Version)

	switch a.Type() {
	case asset.Mesh:
		info, err := asset.ReadMeshInfo(a)
		if err != nil {
			return err
		}
		describeInfo(out, info.Info, int64(len(a.Blob)))
		out.field("vertices", info.VertexCount)
		out.field("indices", info.IndexCount)
		out.field("submeshes", len(info.IndexBufferSizes))
		out.field("bounds", info.AABB)
	case asset.Texture:
		info, err := asset.ReadTextureInfo(a)
		if err != nil {
			return err
		}
		describeInfo(out, info.Info, int64(len(a.Blob)))
		out.field("format", info.Format)
		out.field("size", describeExtent(info.Width, info.Height))
	case asset.Shader:
		info, err := asset.ReadShaderInfo(a)
		if err != nil {
			return err
		}
		describeInfo(out, info.Info, int64(len(a.Blob)))
		out.field("stage", info.ShaderType)
	case asset.Material:
		info, err := asset.ReadMaterialInfo(a)
		if err != nil {
			return err
		}
		out.field("material", info.MaterialType)
		out.field("dependencies", info.Dependencies())
	}
	return nil
}

func describeInfo(out *printer, info asset.Info, packed int64) {
	out.field("compression", info.CompressionMode)
	out.field("blob", describeSizes(int64(info.UnpackedSize), packed))
}
