/*
DESCRIPTION
  hdmv-mux is a smoke-test CLI exercising the PGS generator, the HDMV
  segment builder, and the ESMS script writer end to end against a
  synthetic subtitle: one rectangle appearing then clearing.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package main implements hdmv-mux, a thin CLI driving the PGS generator,
// segment builder and ESMS writer over a synthetic subtitle sequence, the
// way cmd/looper and cmd/audio-netsender drive their respective cores in
// the teacher repo.
package main

import (
	"flag"
	"os"

	"github.com/ausocean/utils/logging"

	"github.com/ausocean/libbluav/esms"
	"github.com/ausocean/libbluav/hdmv/color"
	"github.com/ausocean/libbluav/hdmv/pgs"
	"github.com/ausocean/libbluav/hdmv/rect"
	"github.com/ausocean/libbluav/hdmv/segment"
)

func main() {
	var (
		width     = flag.Uint("width", 1920, "video plane width")
		height    = flag.Uint("height", 1080, "video plane height")
		out       = flag.String("out", "out.pgs", "output PGS segment stream path")
		esmsPath  = flag.String("esms", "out.esms", "output ESMS script path")
		verbosity = flag.Int("v", int(logging.Info), "log verbosity (ausocean/utils/logging levels)")
	)
	flag.Parse()

	l := logging.New(int8(*verbosity), os.Stderr, true)
	adapt := func(lvl int8, msg string, args ...interface{}) { l.Log(lvl, msg, args...) }

	if err := run(uint16(*width), uint16(*height), *out, *esmsPath, adapt); err != nil {
		l.Fatal("hdmv-mux failed", "error", err)
	}
}

// run generates one Epoch (subtitle appears for one window, then clears),
// writes its PGS Display Sets to out, and records the emission in an ESMS
// script at esmsPath.
func run(width, height uint16, out, esmsPath string, log func(lvl int8, msg string, args ...interface{})) error {
	gen := pgs.NewGenerator(width, height, pgs.WithLog(log))

	region := pgs.Region{
		Pos:  rect.Rect{X: width/2 - 8, Y: height - 64, W: 16, H: 16},
		RGBA: make([]uint32, 16*16),
	}
	for i := range region.RGBA {
		region.RGBA[i] = 0xFFFFFFFF
	}

	const tickHz = 27000000
	if _, err := gen.Tick(0, []pgs.Region{region}); err != nil {
		return err
	}
	if _, err := gen.Tick(5*tickHz, nil); err != nil {
		return err
	}
	seq, err := gen.Close()
	if err != nil {
		return err
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	w := segment.NewWriter(f, segment.WithLog(log))

	pal := &color.Palette{}
	pal.Init(0, 0, color.BT709)

	for frame := seq.Frames(); frame != nil; frame = frame.Next() {
		state := segment.CompositionNormal
		if frame.Prev() == nil {
			state = segment.CompositionEpochStart
		}
		ds := segment.PGSDisplaySet{
			Video:        segment.VideoDescriptor{Width: width, Height: height, FrameRateID: 0x01},
			Composition:  segment.CompositionDescriptor{Number: uint16(frame.Timestamp / tickHz), State: state},
			Presentation: segment.PresentationComposition{PaletteIDRef: pal.ID()},
		}
		if err := w.BuildPGSDisplaySet(ds); err != nil {
			return err
		}
	}

	script := esms.NewWriter()
	if err := script.AddESProperties(out, 0, nil); err != nil {
		return err
	}
	return os.WriteFile(esmsPath, script.Bytes(true), 0o644)
}
