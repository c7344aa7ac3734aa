// Package export renders journeys as KML for inspection in Google Earth.
package export

import (
	"fmt"
	"image/color"
	"io"

	"github.com/twpayne/go-kml"

	"github.com/dpup/journey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/journey.ersn.net/server/internal/lib/stamps"
)

// Journey is the data rendered into a KML document
type Journey struct {
	Name      string
	Completed []geo.Point
	Remaining []geo.Point
	Landmarks []stamps.Status
	Marker    *geo.Point
}

var (
	completedStyle = kml.SharedStyle("completed",
		kml.LineStyle(kml.Color(color.RGBA{R: 0x2e, G: 0xb8, B: 0x4b, A: 0xff}), kml.Width(4)))
	remainingStyle = kml.SharedStyle("remaining",
		kml.LineStyle(kml.Color(color.RGBA{R: 0x9e, G: 0x9e, B: 0x9e, A: 0xcc}), kml.Width(3)))

	landmarkStyles = map[stamps.State]*kml.SharedElement{
		stamps.Locked:    landmarkStyle(stamps.Locked, color.RGBA{R: 0x75, G: 0x75, B: 0x75, A: 0xff}),
		stamps.Eligible:  landmarkStyle(stamps.Eligible, color.RGBA{R: 0xff, G: 0xc1, B: 0x07, A: 0xff}),
		stamps.Collected: landmarkStyle(stamps.Collected, color.RGBA{R: 0x2e, G: 0xb8, B: 0x4b, A: 0xff}),
	}
)

func landmarkStyle(state stamps.State, c color.Color) *kml.SharedElement {
	return kml.SharedStyle("landmark-"+state.String(), kml.IconStyle(kml.Color(c), kml.Scale(1.2)))
}

// JourneyKML builds the KML document for a journey
func JourneyKML(j Journey) *kml.CompoundElement {
	doc := kml.Document(kml.Name(j.Name), completedStyle, remainingStyle)
	for _, state := range []stamps.State{stamps.Locked, stamps.Eligible, stamps.Collected} {
		doc.Add(landmarkStyles[state])
	}

	if len(j.Completed) > 1 {
		doc.Add(line("Completed", completedStyle, j.Completed))
	}
	if len(j.Remaining) > 1 {
		doc.Add(line("Remaining", remainingStyle, j.Remaining))
	}

	if len(j.Landmarks) > 0 {
		folder := kml.Folder(kml.Name("Landmarks"))
		for _, l := range j.Landmarks {
			folder.Add(kml.Placemark(
				kml.Name(l.Landmark.Name),
				kml.Description(fmt.Sprintf("%s at %.0f m", l.State, l.OffsetMeters)),
				kml.StyleURL(landmarkStyles[l.State].URL()),
				kml.Point(kml.Coordinates(coordinate(l.Landmark.Position))),
			))
		}
		doc.Add(folder)
	}

	if j.Marker != nil {
		doc.Add(kml.Placemark(
			kml.Name("Current position"),
			kml.Point(kml.Coordinates(coordinate(*j.Marker))),
		))
	}

	return kml.KML(doc)
}

// Write writes the journey's KML document to w
func Write(w io.Writer, j Journey) error {
	if err := JourneyKML(j).WriteIndent(w, "", "  "); err != nil {
		return fmt.Errorf("failed to write KML: %w", err)
	}
	return nil
}

func line(name string, style *kml.SharedElement, points []geo.Point) *kml.CompoundElement {
	coords := make([]kml.Coordinate, len(points))
	for i, p := range points {
		coords[i] = coordinate(p)
	}
	return kml.Placemark(
		kml.Name(name),
		kml.StyleURL(style.URL()),
		kml.LineString(kml.Tessellate(true), kml.Coordinates(coords...)),
	)
}

func coordinate(p geo.Point) kml.Coordinate {
	return kml.Coordinate{Lon: p.Longitude, Lat: p.Latitude}
}
