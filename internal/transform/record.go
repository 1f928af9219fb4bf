package transform

import "github.com/brensch/vdparquet/internal/table"

// VehicleReading is one vehicle class's measurement on a lane.
type VehicleReading struct {
	Volume string
	Speed  string
}

// LaneRecord holds a lane's aggregate measurements plus per-class readings
// in first-seen class order.
type LaneRecord struct {
	Speed     string
	Occupancy string

	classes  []string
	readings map[string]VehicleReading
}

func newLaneRecord() *LaneRecord {
	return &LaneRecord{readings: make(map[string]VehicleReading)}
}

// SetVehicle stores a class reading, replacing an earlier one for the class.
func (l *LaneRecord) SetVehicle(class string, r VehicleReading) {
	if _, ok := l.readings[class]; !ok {
		l.classes = append(l.classes, class)
	}
	l.readings[class] = r
}

// Vehicle returns the reading for class.
func (l *LaneRecord) Vehicle(class string) (VehicleReading, bool) {
	r, ok := l.readings[class]
	return r, ok
}

// Classes lists vehicle classes in first-seen order.
func (l *LaneRecord) Classes() []string {
	return l.classes
}

// DeviceRecord is one detector's snapshot, lanes keyed "L{LaneID}".
type DeviceRecord struct {
	VDID string

	laneKeys []string
	lanes    map[string]*LaneRecord
}

// NewDeviceRecord returns an empty record for vdid.
func NewDeviceRecord(vdid string) *DeviceRecord {
	return &DeviceRecord{VDID: vdid, lanes: make(map[string]*LaneRecord)}
}

// Lane returns the lane for key, creating it on first use.
func (d *DeviceRecord) Lane(key string) *LaneRecord {
	if l, ok := d.lanes[key]; ok {
		return l
	}
	l := newLaneRecord()
	d.lanes[key] = l
	d.laneKeys = append(d.laneKeys, key)
	return l
}

// LaneKeys lists lanes in first-seen order.
func (d *DeviceRecord) LaneKeys() []string {
	return d.laneKeys
}

// LookupLane returns an existing lane.
func (d *DeviceRecord) LookupLane(key string) (*LaneRecord, bool) {
	l, ok := d.lanes[key]
	return l, ok
}

// Flatten turns a device record into one row: VDID, then per lane
// {lane}_Speed, {lane}_Occupancy and per class {lane}_{class}_Volume,
// {lane}_{class}_Vehicle_Speed.
func Flatten(d *DeviceRecord) *table.Record {
	row := table.NewRecord()
	row.Set("VDID", d.VDID)
	for _, key := range d.laneKeys {
		lane := d.lanes[key]
		row.Set(key+"_Speed", lane.Speed)
		row.Set(key+"_Occupancy", lane.Occupancy)
		for _, class := range lane.classes {
			r := lane.readings[class]
			row.Set(key+"_"+class+"_Volume", r.Volume)
			row.Set(key+"_"+class+"_Vehicle_Speed", r.Speed)
		}
	}
	return row
}
