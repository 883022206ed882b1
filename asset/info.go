// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package asset

import (
	"encoding/json"
	"fmt"

	"github.com/Zubo/obsidian-engine-sub000/gfx"
	glm "github.com/go-gl/mathgl/mgl32"
)

// Info is the metadata shared by every asset carrying a blob.
type Info struct {
	UnpackedSize    uint64          `json:"unpackedSize"`
	CompressionMode CompressionMode `json:"compressionMode"`
}

// AABB is an axis aligned bounding box.
type AABB struct {
	TopRight   glm.Vec3 `json:"topRight"`
	BottomLeft glm.Vec3 `json:"bottomLeft"`
}

// Center returns the middle point of the box.
func (b AABB) Center() glm.Vec3 {
	return b.TopRight.Add(b.BottomLeft).Mul(0.5)
}

// MeshInfo describes the vertex and index buffers of a mesh blob.
// The blob holds the vertex buffer followed by every index buffer.
type MeshInfo struct {
	Info
	VertexCount      uint64   `json:"vertexCount"`
	VertexBufferSize uint64   `json:"vertexBufferSize"`
	IndexCount       uint64   `json:"indexCount"`
	IndexBufferSizes []uint64 `json:"indexBufferSizes"`
	HasNormals       bool     `json:"hasNormals"`
	HasColors        bool     `json:"hasColors"`
	HasUV            bool     `json:"hasUV"`
	HasTangents      bool     `json:"hasTangents"`
	DefaultMaterials []string `json:"defaultMatPaths,omitempty"`
	AABB             AABB     `json:"aabb"`
}

// TextureInfo describes the pixel data of a texture blob.
type TextureInfo struct {
	Info
	Format gfx.TextureFormat `json:"format"`
	Width  uint32            `json:"width"`
	Height uint32            `json:"height"`
}

// ShaderInfo describes a SPIR-V shader blob.
type ShaderInfo struct {
	Info
	ShaderType gfx.ShaderType `json:"shaderType"`
}

// LitData holds parameters of lit materials.
type LitData struct {
	DiffuseTex    string   `json:"diffuseTex,omitempty"`
	NormalMapTex  string   `json:"normalMapTex,omitempty"`
	AmbientColor  glm.Vec4 `json:"ambientColor"`
	DiffuseColor  glm.Vec4 `json:"diffuseColor"`
	SpecularColor glm.Vec4 `json:"specularColor"`
	Shininess     float32  `json:"shininess"`
}

// UnlitData holds parameters of unlit materials.
type UnlitData struct {
	ColorTex string   `json:"colorTex,omitempty"`
	Color    glm.Vec4 `json:"color"`
}

// MaterialInfo is the whole content of a material asset, it has no blob.
// Paths are relative to the asset root.
type MaterialInfo struct {
	MaterialType gfx.MaterialType `json:"materialType"`
	Shader       string           `json:"shader"`
	VertexShader string           `json:"vertexShader,omitempty"`
	Transparent  bool             `json:"transparent"`
	Lit          *LitData         `json:"litData,omitempty"`
	Unlit        *UnlitData       `json:"unlitData,omitempty"`
}

// Dependencies lists every asset the material needs before it can be uploaded.
func (m MaterialInfo) Dependencies() []string {
	var deps []string
	add := func(p string) {
		if p != "" {
			deps = append(deps, p)
		}
	}
	add(m.Shader)
	add(m.VertexShader)
	if m.Lit != nil {
		add(m.Lit.DiffuseTex)
		add(m.Lit.NormalMapTex)
	}
	if m.Unlit != nil {
		add(m.Unlit.ColorTex)
	}
	return deps
}

func readInfo(a *Asset, t Type, v interface{}) error {
	if a.Type() != t {
		return fmt.Errorf("%w: want %s, got %s", ErrWrongType, t, a.Type())
	}
	if err := json.Unmarshal(a.JSON, v); err != nil {
		return fmt.Errorf("%w: %s metadata: %s", ErrCorrupt, t, err)
	}
	return nil
}

// ReadMeshInfo decodes the metadata of a mesh asset.
func ReadMeshInfo(a *Asset) (MeshInfo, error) {
	var info MeshInfo
	if err := readInfo(a, Mesh, &info); err != nil {
		return MeshInfo{}, err
	}
	var indexBytes uint64
	for _, s := range info.IndexBufferSizes {
		indexBytes += s
	}
	if info.VertexBufferSize+indexBytes != info.UnpackedSize {
		return MeshInfo{}, fmt.Errorf("%w: mesh buffers do not add up to unpacked size", ErrCorrupt)
	}
	return info, nil
}

// ReadTextureInfo decodes the metadata of a texture asset.
func ReadTextureInfo(a *Asset) (TextureInfo, error) {
	var info TextureInfo
	if err := readInfo(a, Texture, &info); err != nil {
		return TextureInfo{}, err
	}
	if uint64(info.Width)*uint64(info.Height)*uint64(info.Format.PixelSize()) != info.UnpackedSize {
		return TextureInfo{}, fmt.Errorf("%w: texture size does not match %dx%d", ErrCorrupt, info.Width, info.Height)
	}
	return info, nil
}

// ReadShaderInfo decodes the metadata of a shader asset.
func ReadShaderInfo(a *Asset) (ShaderInfo, error) {
	var info ShaderInfo
	if err := readInfo(a, Shader, &info); err != nil {
		return ShaderInfo{}, err
	}
	return info, nil
}

// ReadMaterialInfo decodes a material asset.
func ReadMaterialInfo(a *Asset) (MaterialInfo, error) {
	var info MaterialInfo
	if err := readInfo(a, Material, &info); err != nil {
		return MaterialInfo{}, err
	}
	if info.Shader == "" {
		return MaterialInfo{}, fmt.Errorf("%w: material without shader", ErrCorrupt)
	}
	return info, nil
}

func pack(t Type, info *Info, meta interface{}, raw []byte, mode CompressionMode) (*Asset, error) {
	blob, used, err := Pack(mode, raw)
	if err != nil {
		return nil, err
	}
	info.UnpackedSize = uint64(len(raw))
	info.CompressionMode = used
	js, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return New(t, js, blob), nil
}

// PackMesh builds a mesh asset from raw vertex and index data.
func PackMesh(info MeshInfo, raw []byte, mode CompressionMode) (*Asset, error) {
	return pack(Mesh, &info.Info, &info, raw, mode)
}

// PackTexture builds a texture asset from raw pixels.
func PackTexture(info TextureInfo, pixels []byte, mode CompressionMode) (*Asset, error) {
	return pack(Texture, &info.Info, &info, pixels, mode)
}

// PackShader builds a shader asset from SPIR-V code.
func PackShader(info ShaderInfo, code []byte, mode CompressionMode) (*Asset, error) {
	return pack(Shader, &info.Info, &info, code, mode)
}

// PackMaterial builds a material asset.
func PackMaterial(info MaterialInfo) (*Asset, error) {
	js, err := json.MarshalIndent(&info, "", "  ")
	if err != nil {
		return nil, err
	}
	return New(Material, js, nil), nil
}
