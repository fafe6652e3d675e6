package pixelcnn

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
)

// elu is the exponential linear unit, x for x >= 0 and exp(x)-1 below.
func elu(x *Node) *Node {
	return Where(GreaterOrEqual(x, ZerosLike(x)), x, Expm1(x))
}

// concatElu applies elu to the concatenation of x and -x along the channels
// axis, doubling the channel count. It keeps gradient flow on both sides of
// zero, which matters for the gated residual blocks.
func concatElu(x *Node) *Node {
	return elu(Concatenate([]*Node{x, Neg(x)}, -1))
}

// downShift moves an image tensor one row down, discarding the last row and
// zero-filling the first. Combined with a vertically padded convolution it
// yields a receptive field strictly above the current pixel.
func downShift(x *Node) *Node {
	g := x.Graph()
	dims := x.Shape().Dimensions
	pad := Zeros(g, shapes.Make(x.DType(), dims[0], 1, dims[2], dims[3]))
	kept := SliceAxis(x, 1, AxisRange(0, dims[1]-1))
	return Concatenate([]*Node{pad, kept}, 1)
}

// rightShift moves an image tensor one column right, discarding the last
// column and zero-filling the first.
func rightShift(x *Node) *Node {
	g := x.Graph()
	dims := x.Shape().Dimensions
	pad := Zeros(g, shapes.Make(x.DType(), dims[0], dims[1], 1, dims[3]))
	kept := SliceAxis(x, 2, AxisRange(0, dims[2]-1))
	return Concatenate([]*Node{pad, kept}, 2)
}

// padSpatial zero-pads the image tensor with the given number of rows/cols
// on each spatial edge (top, bottom, left, right).
func padSpatial(x *Node, top, bottom, left, right int) *Node {
	g := x.Graph()
	dims := x.Shape().Dimensions
	dtype := x.DType()
	if top > 0 || bottom > 0 {
		parts := make([]*Node, 0, 3)
		if top > 0 {
			parts = append(parts, Zeros(g, shapes.Make(dtype, dims[0], top, dims[2], dims[3])))
		}
		parts = append(parts, x)
		if bottom > 0 {
			parts = append(parts, Zeros(g, shapes.Make(dtype, dims[0], bottom, dims[2], dims[3])))
		}
		x = Concatenate(parts, 1)
		dims = x.Shape().Dimensions
	}
	if left > 0 || right > 0 {
		parts := make([]*Node, 0, 3)
		if left > 0 {
			parts = append(parts, Zeros(g, shapes.Make(dtype, dims[0], dims[1], left, dims[3])))
		}
		parts = append(parts, x)
		if right > 0 {
			parts = append(parts, Zeros(g, shapes.Make(dtype, dims[0], dims[1], right, dims[3])))
		}
		x = Concatenate(parts, 2)
	}
	return x
}

// convFn is the shape of the two causal convolution variants below.
type convFn func(ctx *context.Context, x *Node, filters, kernelH, kernelW int) *Node

// downShiftedConv pads asymmetrically above and symmetrically sideways, so
// each output depends only on rows at or above it.
func downShiftedConv(ctx *context.Context, x *Node, filters, kernelH, kernelW int) *Node {
	x = padSpatial(x, kernelH-1, 0, (kernelW-1)/2, (kernelW-1)/2)
	return layers.Convolution(ctx, x).
		Filters(filters).
		KernelSizePerAxis(kernelH, kernelW).
		NoPadding().
		Done()
}

// downRightShiftedConv pads above and to the left only, so each output
// depends only on pixels above or to the left of it.
func downRightShiftedConv(ctx *context.Context, x *Node, filters, kernelH, kernelW int) *Node {
	x = padSpatial(x, kernelH-1, 0, kernelW-1, 0)
	return layers.Convolution(ctx, x).
		Filters(filters).
		KernelSizePerAxis(kernelH, kernelW).
		NoPadding().
		Done()
}

// nin is a 1x1 convolution ("network in network"), used to mix channels and
// to project the auxiliary stream into the gated residual blocks.
func nin(ctx *context.Context, x *Node, filters int) *Node {
	return layers.Convolution(ctx, x).
		Filters(filters).
		KernelSizePerAxis(1, 1).
		NoPadding().
		Done()
}

// gatedResnet is the PixelCNN++ residual block: a causal convolution over
// the concat-elu of x, an optional auxiliary stream mixed in with a 1x1
// convolution, dropout, and a sigmoid-gated update added back to x.
func gatedResnet(ctx *context.Context, x, auxiliary *Node, conv convFn, dropoutRate *Node) *Node {
	filters := x.Shape().Dim(-1)
	c := conv(ctx.In("conv_0"), concatElu(x), filters, 2, 3)
	if auxiliary != nil {
		c = Add(c, nin(ctx.In("aux"), concatElu(auxiliary), filters))
	}
	c = concatElu(c)
	if dropoutRate != nil {
		c = layers.Dropout(ctx.In("dropout"), c, dropoutRate)
	}
	c = conv(ctx.In("conv_1"), c, 2*filters, 2, 3)
	halves := Split(c, -1, 2)
	return Add(x, Mul(halves[0], Sigmoid(halves[1])))
}

// NetworkGraph builds the causal PixelCNN++ trunk over an image tensor of
// shape [batch, height, width, channels]. It maintains the usual two
// streams, one conditioned on rows strictly above the current pixel and one
// additionally on pixels to the left, runs ParamNrResnet gated residual
// blocks on each, and returns the combined stream projected back to
// ParamHiddenSize filters. The output at each pixel never depends on that
// pixel or any pixel after it in raster order.
func NetworkGraph(ctx *context.Context, x *Node, dropoutRate *Node) *Node {
	filters := context.GetParamOr(ctx, ParamHiddenSize, 64)
	nrResnet := context.GetParamOr(ctx, ParamNrResnet, 2)

	u := downShift(downShiftedConv(ctx.In("conv_init_down"), x, filters, 2, 3))
	ul := Add(
		downShift(downShiftedConv(ctx.In("conv_init_down_1x3"), x, filters, 1, 3)),
		rightShift(downRightShiftedConv(ctx.In("conv_init_down_right"), x, filters, 2, 1)))

	for i := 0; i < nrResnet; i++ {
		u = gatedResnet(ctx.Inf("resnet_u_%d", i), u, nil, downShiftedConv, dropoutRate)
		ul = gatedResnet(ctx.Inf("resnet_ul_%d", i), ul, u, downRightShiftedConv, dropoutRate)
	}
	return nin(ctx.In("out"), elu(ul), filters)
}
