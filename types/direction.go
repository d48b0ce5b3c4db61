package types

// Movement directions, clockwise from the top.
const (
	DirectionTop         = 1
	DirectionTopRight    = 2
	DirectionRight       = 3
	DirectionBottomRight = 4
	DirectionBottom      = 5
	DirectionBottomLeft  = 6
	DirectionLeft        = 7
	DirectionTopLeft     = 8
)

var directionOffsets = [9][2]int{
	{0, 0},
	{0, -1},
	{1, -1},
	{1, 0},
	{1, 1},
	{0, 1},
	{-1, 1},
	{-1, 0},
	{-1, -1},
}

// DirectionOffset returns the tile delta of a direction.
func DirectionOffset(dir int) (dx, dy int, ok bool) {
	if dir < DirectionTop || dir > DirectionTopLeft {
		return 0, 0, false
	}
	d := directionOffsets[dir]
	return d[0], d[1], true
}

// DirectionFromOffset is the inverse of DirectionOffset. It returns 0 for a
// delta that is not a single step.
func DirectionFromOffset(dx, dy int) int {
	for dir := DirectionTop; dir <= DirectionTopLeft; dir++ {
		if directionOffsets[dir][0] == dx && directionOffsets[dir][1] == dy {
			return dir
		}
	}
	return 0
}

// ChebyshevDistance is the tile distance between two positions in one room.
func ChebyshevDistance(ax, ay, bx, by int) int {
	return max(abs(ax-bx), abs(ay-by))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
