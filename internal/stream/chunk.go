package stream

import (
	"fmt"
	"math"

	"github.com/nerfedge/scenecache/internal/geom"
	"github.com/nerfedge/scenecache/pkg/types"
)

// Chunk is one spatial partition of the scene, the unit of streaming and
// caching. Payloads live in the streamer's cache layer keyed by ID; the
// Chunk itself carries only placement and scheduling metadata.
type Chunk struct {
	ID       string
	Coord    [3]int
	Bounds   geom.AABB
	LOD      int
	Priority float64
	Distance float64
	State    types.DownloadState

	// wanted marks membership in the current required or predicted set.
	// An in-flight download whose chunk is no longer wanted still
	// completes, but its result is discarded and its slot freed.
	wanted bool

	// deferred stops the scheduler from re-claiming a chunk that was
	// fetched but could not be admitted, until the next pose update
	// rescores it.
	deferred bool
}

// chunkID renders grid coordinates as the canonical "cx_cy_cz" key.
func chunkID(coord [3]int) string {
	return fmt.Sprintf("%d_%d_%d", coord[0], coord[1], coord[2])
}

// chunkBounds returns the axis-aligned box of the grid cell at coord, with
// cells of the given edge length.
func chunkBounds(coord [3]int, size float64) geom.AABB {
	min := geom.Vec3{
		X: float64(coord[0]) * size,
		Y: float64(coord[1]) * size,
		Z: float64(coord[2]) * size,
	}
	return geom.AABB{
		Min: min,
		Max: geom.Vec3{X: min.X + size, Y: min.Y + size, Z: min.Z + size},
	}
}

// chunksInSphere enumerates the grid cells whose bounds intersect the
// sphere at center with the given radius.
func chunksInSphere(center geom.Vec3, radius, size float64) [][3]int {
	if radius <= 0 || size <= 0 {
		return nil
	}
	lo := [3]int{
		int(math.Floor((center.X - radius) / size)),
		int(math.Floor((center.Y - radius) / size)),
		int(math.Floor((center.Z - radius) / size)),
	}
	hi := [3]int{
		int(math.Floor((center.X + radius) / size)),
		int(math.Floor((center.Y + radius) / size)),
		int(math.Floor((center.Z + radius) / size)),
	}

	var cells [][3]int
	for x := lo[0]; x <= hi[0]; x++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for z := lo[2]; z <= hi[2]; z++ {
				coord := [3]int{x, y, z}
				if chunkBounds(coord, size).IntersectsSphere(center, radius) {
					cells = append(cells, coord)
				}
			}
		}
	}
	return cells
}
