package pathfinder

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/pithecene-io/colony/types"
)

// ErrInvalidRoomName is returned for names not shaped like "W1N1".
var ErrInvalidRoomName = errors.New("invalid room name")

// ParseRoomName maps a room name to world room coordinates. East and south
// grow positive from 0; W0 is -1 and N0 is -1.
func ParseRoomName(name string) (rx, ry int, err error) {
	if len(name) < 4 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRoomName, name)
	}
	i := 1
	for i < len(name) && name[i] >= '0' && name[i] <= '9' {
		i++
	}
	if i == 1 || i >= len(name)-1 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRoomName, name)
	}
	h, err := strconv.Atoi(name[1:i])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRoomName, name)
	}
	v, err := strconv.Atoi(name[i+1:])
	if err != nil || v < 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRoomName, name)
	}

	switch name[0] {
	case 'E':
		rx = h
	case 'W':
		rx = -h - 1
	default:
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRoomName, name)
	}
	switch name[i] {
	case 'S':
		ry = v
	case 'N':
		ry = -v - 1
	default:
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRoomName, name)
	}
	return rx, ry, nil
}

// RoomName is the inverse of ParseRoomName.
func RoomName(rx, ry int) string {
	var h, v string
	if rx >= 0 {
		h = "E" + strconv.Itoa(rx)
	} else {
		h = "W" + strconv.Itoa(-rx-1)
	}
	if ry >= 0 {
		v = "S" + strconv.Itoa(ry)
	} else {
		v = "N" + strconv.Itoa(-ry-1)
	}
	return h + v
}

// worldPos is a tile in world coordinates.
type worldPos struct {
	x, y int
}

func toWorld(p types.Position) (worldPos, error) {
	rx, ry, err := ParseRoomName(p.Room)
	if err != nil {
		return worldPos{}, err
	}
	return worldPos{x: rx*types.RoomSize + p.X, y: ry*types.RoomSize + p.Y}, nil
}

func (w worldPos) room() (rx, ry int) {
	return floorDiv(w.x, types.RoomSize), floorDiv(w.y, types.RoomSize)
}

func (w worldPos) local() (x, y int) {
	rx, ry := w.room()
	return w.x - rx*types.RoomSize, w.y - ry*types.RoomSize
}

func (w worldPos) position() types.Position {
	rx, ry := w.room()
	x, y := w.local()
	return types.Position{X: x, Y: y, Room: RoomName(rx, ry)}
}

func (w worldPos) distance(o worldPos) int {
	return max(abs(w.x-o.x), abs(w.y-o.y))
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// WorldDistance is the tile distance between positions in any rooms.
func WorldDistance(a, b types.Position) (int, error) {
	wa, err := toWorld(a)
	if err != nil {
		return 0, err
	}
	wb, err := toWorld(b)
	if err != nil {
		return 0, err
	}
	return wa.distance(wb), nil
}

// DirectionTo returns the move direction for one step from a to b, which may
// sit across a room edge. It returns 0 when b is not adjacent.
func DirectionTo(a, b types.Position) int {
	wa, err := toWorld(a)
	if err != nil {
		return 0
	}
	wb, err := toWorld(b)
	if err != nil {
		return 0
	}
	return types.DirectionFromOffset(wb.x-wa.x, wb.y-wa.y)
}
