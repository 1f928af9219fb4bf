package transform

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"golang.org/x/net/html/charset"
)

// Namespace of the VDLive document schema. Elements without a namespace are
// accepted too; elements in any other namespace are ignored.
const Namespace = "http://traffic.transportdata.tw/standard/traffic/schema/"

// capture holds the text of the first occurrence of a child element.
type capture struct {
	s   string
	set bool
}

type vehicleBuf struct {
	depth                int
	class, volume, speed capture
}

type laneBuf struct {
	depth                int
	id, speed, occupancy capture
	vehicles             []*vehicleBuf
}

type parser struct {
	devices []*DeviceRecord
	byID    map[string]*DeviceRecord

	depth    int
	devDepth int // depth of the open VDLive element, -1 when none
	vdid     capture
	lanes    []*laneBuf
	lane     *laneBuf
	vehicle  *vehicleBuf

	field      *capture
	fieldDepth int
}

// Parse streams a VDLive document and returns one DeviceRecord per distinct
// non-empty VDID, in first-seen order. Each VDLive element is buffered only
// until it closes.
func Parse(r io.Reader) ([]*DeviceRecord, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	p := &parser{byID: make(map[string]*DeviceRecord), devDepth: -1}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml at offset %d: %w", dec.InputOffset(), err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			p.depth++
			if inScope(t.Name) {
				p.start(t.Name.Local)
			}
		case xml.EndElement:
			if p.field != nil && p.depth == p.fieldDepth {
				p.field = nil
			}
			if inScope(t.Name) {
				p.end()
			}
			p.depth--
		case xml.CharData:
			if p.field != nil && p.depth == p.fieldDepth {
				p.field.s += string(t)
			}
		}
	}
	if p.devDepth >= 0 {
		return nil, fmt.Errorf("decode xml: unterminated VDLive element")
	}
	return p.devices, nil
}

func inScope(n xml.Name) bool {
	return n.Space == Namespace || n.Space == ""
}

func (p *parser) capture(c *capture) {
	if c.set {
		return
	}
	c.set = true
	p.field = c
	p.fieldDepth = p.depth
}

func (p *parser) start(local string) {
	switch {
	case p.devDepth < 0:
		if local == "VDLive" {
			p.devDepth = p.depth
			p.vdid = capture{}
			p.lanes = nil
		}
	case p.vehicle != nil:
		if p.depth != p.vehicle.depth+1 {
			return
		}
		switch local {
		case "VehicleType":
			p.capture(&p.vehicle.class)
		case "Volume":
			p.capture(&p.vehicle.volume)
		case "Speed":
			p.capture(&p.vehicle.speed)
		}
	case p.lane != nil:
		if local == "Vehicle" {
			p.vehicle = &vehicleBuf{depth: p.depth}
			return
		}
		if p.depth != p.lane.depth+1 {
			return
		}
		switch local {
		case "LaneID":
			p.capture(&p.lane.id)
		case "Speed":
			p.capture(&p.lane.speed)
		case "Occupancy":
			p.capture(&p.lane.occupancy)
		}
	case local == "Lane":
		p.lane = &laneBuf{depth: p.depth}
	case local == "VDID" && p.depth == p.devDepth+1:
		p.capture(&p.vdid)
	}
}

func (p *parser) end() {
	switch {
	case p.vehicle != nil && p.depth == p.vehicle.depth:
		p.lane.vehicles = append(p.lane.vehicles, p.vehicle)
		p.vehicle = nil
	case p.lane != nil && p.depth == p.lane.depth:
		p.lanes = append(p.lanes, p.lane)
		p.lane = nil
	case p.depth == p.devDepth:
		p.finishDevice()
		p.devDepth = -1
		p.lanes = nil
	}
}

func (p *parser) finishDevice() {
	if p.vdid.s == "" {
		return
	}
	dev, ok := p.byID[p.vdid.s]
	if !ok {
		dev = NewDeviceRecord(p.vdid.s)
		p.byID[dev.VDID] = dev
		p.devices = append(p.devices, dev)
	}
	for _, lb := range p.lanes {
		lane := dev.Lane("L" + lb.id.s)
		lane.Speed = lb.speed.s
		lane.Occupancy = lb.occupancy.s
		for _, v := range lb.vehicles {
			if v.class.s == "" {
				continue
			}
			lane.SetVehicle(v.class.s, VehicleReading{Volume: v.volume.s, Speed: v.speed.s})
		}
	}
}
