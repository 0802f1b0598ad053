/*
NAME
  displayset.go

DESCRIPTION
  displayset.go implements the two HDMV Display Set entry points, ordering
  segment emission per spec.md §4.7 and hdmv_builder.c's
  buildIGSDisplaySet/buildPGSDisplaySet.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package segment

import "github.com/ausocean/libbluav/hdmv/color"

// IGSDisplaySet collects everything needed to emit one Interactive Graphics
// Display Set: ICS, then PDS, then ODS, then END, per buildIGSDisplaySet.
type IGSDisplaySet struct {
	Video       VideoDescriptor
	Composition CompositionDescriptor
	Interactive InteractiveComposition
	Palettes    []*color.Palette
	Objects     []Object
}

// BuildIGSDisplaySet writes one IGS Display Set (ICS, PDS, ODS, END) to w's
// sink, flushing on completion. It is an error to call this with a nil w.
func (w *Writer) BuildIGSDisplaySet(ds IGSDisplaySet) error {
	if err := w.writeICS(ds.Video, ds.Composition, ds.Interactive); err != nil {
		return err
	}
	if err := w.writePDSegments(ds.Palettes); err != nil {
		return err
	}
	if err := w.writeODSegments(ds.Objects); err != nil {
		return err
	}
	if err := w.writeENDSegment(); err != nil {
		return err
	}
	return w.flush()
}

// PGSDisplaySet collects everything needed to emit one Presentation Graphics
// Display Set: PCS, then an optional WDS, then PDS, then ODS, then END, per
// buildPGSDisplaySet.
type PGSDisplaySet struct {
	Video       VideoDescriptor
	Composition CompositionDescriptor
	Presentation PresentationComposition
	Windows     []WindowInfo
	Palettes    []*color.Palette
	Objects     []Object
}

// BuildPGSDisplaySet writes one PGS Display Set to w's sink, flushing on
// completion. The WDS is only written when ds.Windows is non-empty: an Epoch
// Continue composition that reuses the prior epoch's windows carries none,
// per spec.md §4.7.
func (w *Writer) BuildPGSDisplaySet(ds PGSDisplaySet) error {
	if err := w.writePCS(ds.Video, ds.Composition, ds.Presentation); err != nil {
		return err
	}
	if len(ds.Windows) > 0 {
		if err := w.writeWDS(WindowDefinition{Windows: ds.Windows}); err != nil {
			return err
		}
	}
	if err := w.writePDSegments(ds.Palettes); err != nil {
		return err
	}
	if err := w.writeODSegments(ds.Objects); err != nil {
		return err
	}
	if err := w.writeENDSegment(); err != nil {
		return err
	}
	return w.flush()
}
