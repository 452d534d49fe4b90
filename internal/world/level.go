package world

import (
	"github.com/echochamber/arena/internal/material"
	"github.com/echochamber/arena/pkg/core"
)

const (
	roomSize   = 20.0
	wallHeight = 5.0
	wallWidth  = 0.5
)

// TestLevel is the default arena: a 20x20 room with metal east and west
// walls, glass to the north, soft to the south and three obstacles.
func TestLevel() *World {
	mid := wallHeight / 2
	w, err := New([]Wall{
		{Name: "west", Center: core.V3(-roomSize/2, mid, 0), Size: core.V3(wallWidth, wallHeight, roomSize), Material: material.Metal},
		{Name: "east", Center: core.V3(roomSize/2, mid, 0), Size: core.V3(wallWidth, wallHeight, roomSize), Material: material.Metal},
		{Name: "north", Center: core.V3(0, mid, -roomSize/2), Size: core.V3(roomSize, wallHeight, wallWidth), Material: material.Glass},
		{Name: "south", Center: core.V3(0, mid, roomSize/2), Size: core.V3(roomSize, wallHeight, wallWidth), Material: material.Soft},
		{Name: "column", Center: core.V3(-5, mid, -5), Size: core.V3(1, wallHeight, 1), Material: material.Metal},
		{Name: "divider", Center: core.V3(0, mid, 2), Size: core.V3(10, wallHeight, 0.3), Material: material.Glass},
		{Name: "block", Center: core.V3(5, mid, -3), Size: core.V3(3, wallHeight, 3), Material: material.Soft},
	})
	if err != nil {
		panic(err)
	}
	return w
}
