package compute

import (
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/compute/backend"
)

// TextureFormat specifies the format of texel data.
type TextureFormat = backend.TextureFormat

// Texture formats.
const (
	TextureRGBA8Unorm  = backend.TextureFormatRGBA8Unorm
	TextureR8Unorm     = backend.TextureFormatR8Unorm
	TextureR32Float    = backend.TextureFormatR32Float
	TextureRG32Float   = backend.TextureFormatRG32Float
	TextureRGBA32Float = backend.TextureFormatRGBA32Float
)

// TextureDesc describes a texture to create. Depth 1 (or 0, which is
// normalized to 1) means a 2-D texture.
type TextureDesc struct {
	Width  int
	Height int
	Depth  int
	Format TextureFormat
	Label  string
}

// Texture is a device texture created from a Context.
type Texture struct {
	ctx  *Context
	id   backend.TextureID
	desc TextureDesc
}

// NewTexture creates a texture. initial may be nil or raw texels in
// row-major order, tightly packed.
func (c *Context) NewTexture(desc TextureDesc, initial []byte) (*Texture, error) {
	if err := c.checkOpen("NewTexture"); err != nil {
		return nil, err
	}
	if desc.Depth == 0 {
		desc.Depth = 1
	}
	if desc.Width <= 0 || desc.Height <= 0 || desc.Depth <= 0 {
		return nil, newError(ErrInvalidArgument, "NewTexture", "extent must be positive, got %dx%dx%d",
			desc.Width, desc.Height, desc.Depth)
	}
	if desc.Format.BytesPerTexel() == 0 {
		return nil, newError(ErrInvalidArgument, "NewTexture", "unknown texture format %d", desc.Format)
	}
	if size := desc.Width * desc.Height * desc.Depth * desc.Format.BytesPerTexel(); len(initial) > size {
		return nil, newError(ErrInvalidArgument, "NewTexture", "initial data (%d bytes) exceeds texture size %d", len(initial), size)
	}

	id, err := c.dev.CreateTexture(backend.TextureDescriptor{
		Label:  desc.Label,
		Width:  desc.Width,
		Height: desc.Height,
		Depth:  desc.Depth,
		Format: desc.Format,
	}, initial)
	if err != nil {
		return nil, newError(ErrDeviceFailed, "NewTexture", "%v", err)
	}

	c.log.Debug("texture created",
		"width", desc.Width, "height", desc.Height, "depth", desc.Depth,
		"format", desc.Format)
	return &Texture{ctx: c, id: id, desc: desc}, nil
}

// TextureFromImage creates a width x height RGBA8Unorm texture from an
// image, scaling with bilinear interpolation when the image bounds do not
// match. Width/height of 0 take the image's own dimensions.
func (c *Context) TextureFromImage(img image.Image, width, height int) (*Texture, error) {
	if img == nil {
		return nil, newError(ErrInvalidArgument, "TextureFromImage", "image is nil")
	}
	b := img.Bounds()
	if width == 0 {
		width = b.Dx()
	}
	if height == 0 {
		height = b.Dy()
	}

	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	if width == b.Dx() && height == b.Dy() {
		xdraw.Draw(rgba, rgba.Bounds(), img, b.Min, xdraw.Src)
	} else {
		xdraw.BiLinear.Scale(rgba, rgba.Bounds(), img, b, xdraw.Src, nil)
	}

	return c.NewTexture(TextureDesc{
		Width:  width,
		Height: height,
		Depth:  1,
		Format: TextureRGBA8Unorm,
	}, rgba.Pix)
}

// Destroy releases the texture.
func (t *Texture) Destroy() {
	if t.id == backend.InvalidID {
		return
	}
	t.ctx.dev.DestroyTexture(t.id)
	t.id = backend.InvalidID
}

// Width returns the texture width in texels.
func (t *Texture) Width() int { return t.desc.Width }

// Height returns the texture height in texels.
func (t *Texture) Height() int { return t.desc.Height }

// Depth returns the texture depth in texels.
func (t *Texture) Depth() int { return t.desc.Depth }

// Format returns the texel format.
func (t *Texture) Format() TextureFormat { return t.desc.Format }

// ByteSize returns the total texel storage in bytes.
func (t *Texture) ByteSize() int {
	return t.desc.Width * t.desc.Height * t.desc.Depth * t.desc.Format.BytesPerTexel()
}

// Upload replaces the texture content with raw texels in row-major order.
func (t *Texture) Upload(data []byte) error {
	if t.id == backend.InvalidID {
		return newError(ErrInvalidArgument, "Texture.Upload", "texture is destroyed")
	}
	if len(data) > t.ByteSize() {
		return newError(ErrInvalidArgument, "Texture.Upload", "data (%d bytes) exceeds texture size %d", len(data), t.ByteSize())
	}
	if err := t.ctx.dev.WriteTexture(t.id, data); err != nil {
		return newError(ErrDeviceFailed, "Texture.Upload", "%v", err)
	}
	return nil
}

// Download copies raw texels into dst in row-major order.
func (t *Texture) Download(dst []byte) error {
	if t.id == backend.InvalidID {
		return newError(ErrInvalidArgument, "Texture.Download", "texture is destroyed")
	}
	if len(dst) > t.ByteSize() {
		return newError(ErrInvalidArgument, "Texture.Download", "dst (%d bytes) exceeds texture size %d", len(dst), t.ByteSize())
	}
	if err := t.ctx.dev.ReadTexture(t.id, dst); err != nil {
		return newError(ErrDeviceFailed, "Texture.Download", "%v", err)
	}
	return nil
}

// Image downloads an RGBA8Unorm 2-D texture as an *image.RGBA.
func (t *Texture) Image() (*image.RGBA, error) {
	if t.desc.Format != TextureRGBA8Unorm || t.desc.Depth != 1 {
		return nil, newError(ErrInvalidArgument, "Texture.Image", "requires a 2-D RGBA8Unorm texture")
	}
	rgba := image.NewRGBA(image.Rect(0, 0, t.desc.Width, t.desc.Height))
	if err := t.Download(rgba.Pix); err != nil {
		return nil, err
	}
	return rgba, nil
}
