package connections

// Topology maps between flat indices and N-dimensional coordinates
// (row-major, last dimension varies fastest).
type Topology struct {
	dims    []int
	strides []int
	size    int
}

// NewTopology creates a topology for dims.
func NewTopology(dims []int) Topology {
	t := Topology{
		dims:    append([]int(nil), dims...),
		strides: make([]int, len(dims)),
		size:    product(dims),
	}
	stride := 1
	for i := len(dims) - 1; i >= 0; i-- {
		t.strides[i] = stride
		stride *= dims[i]
	}
	return t
}

// Dimensions returns the dimension sizes.
func (t Topology) Dimensions() []int { return t.dims }

// NumDimensions returns the number of dimensions.
func (t Topology) NumDimensions() int { return len(t.dims) }

// Size returns the number of elements.
func (t Topology) Size() int { return t.size }

// Coordinates returns the coordinates of index.
func (t Topology) Coordinates(index int) []int {
	coords := make([]int, len(t.dims))
	for i, s := range t.strides {
		coords[i] = index / s
		index %= s
	}
	return coords
}

// Index returns the flat index of coords.
func (t Topology) Index(coords []int) int {
	idx := 0
	for i, c := range coords {
		idx += c * t.strides[i]
	}
	return idx
}

// Neighborhood returns every index within radius of center along each
// dimension, center included. With wrap the space is toroidal; otherwise
// coordinates are clipped at the borders. The order is deterministic.
func (t Topology) Neighborhood(center, radius int, wrap bool) []int {
	cc := t.Coordinates(center)
	ranges := make([][]int, len(t.dims))
	for i, d := range t.dims {
		var r []int
		if wrap {
			seen := make(map[int]struct{}, 2*radius+1)
			for c := cc[i] - radius; c <= cc[i]+radius; c++ {
				w := ((c % d) + d) % d
				if _, ok := seen[w]; ok {
					continue
				}
				seen[w] = struct{}{}
				r = append(r, w)
			}
		} else {
			lo, hi := max(0, cc[i]-radius), min(d-1, cc[i]+radius)
			for c := lo; c <= hi; c++ {
				r = append(r, c)
			}
		}
		ranges[i] = r
	}

	total := 1
	for _, r := range ranges {
		total *= len(r)
	}
	out := make([]int, 0, total)
	pos := make([]int, len(ranges))
	for {
		idx := 0
		for i, r := range ranges {
			idx += r[pos[i]] * t.strides[i]
		}
		out = append(out, idx)

		k := len(ranges) - 1
		for k >= 0 {
			pos[k]++
			if pos[k] < len(ranges[k]) {
				break
			}
			pos[k] = 0
			k--
		}
		if k < 0 {
			return out
		}
	}
}

// MapColumn returns the input index at the centre of a column's receptive
// field.
func MapColumn(column int, columns, inputs Topology) int {
	cc := columns.Coordinates(column)
	ic := make([]int, len(cc))
	for i := range cc {
		colDim := float64(columns.dims[i])
		inDim := float64(inputs.dims[i])
		v := float64(cc[i])/colDim*inDim + (inDim/colDim)*0.5
		ic[i] = min(int(v), inputs.dims[i]-1)
	}
	return inputs.Index(ic)
}
