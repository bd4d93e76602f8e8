package billing

// Capacity is the number of spaces available per vehicle type.
type Capacity struct {
	Spaces map[VehicleType]int
}

type OccupancyLine struct {
	VehicleType VehicleType
	Capacity    int
	Occupied    int
	Available   int
	Overbooked  bool
}

// Occupancy counts active clients per vehicle type against capacity.
// Clients without a vehicle type are counted as cars.
func Occupancy(capacity Capacity, clients []Client) []OccupancyLine {
	occupied := make(map[VehicleType]int)
	for _, c := range clients {
		if !c.Active {
			continue
		}
		vt := c.VehicleType
		if vt == "" {
			vt = VehicleCar
		}
		occupied[vt]++
	}

	lines := make([]OccupancyLine, 0, len(VehicleTypes))
	for _, vt := range VehicleTypes {
		spaces := capacity.Spaces[vt]
		used := occupied[vt]
		if spaces == 0 && used == 0 {
			continue
		}
		available := spaces - used
		if available < 0 {
			available = 0
		}
		lines = append(lines, OccupancyLine{
			VehicleType: vt,
			Capacity:    spaces,
			Occupied:    used,
			Available:   available,
			Overbooked:  used > spaces,
		})
	}
	return lines
}
