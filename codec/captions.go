package codec

import "github.com/zsiec/ccx"

// cea708ChannelBase offsets CEA-708 service numbers so that they do not
// collide with the four CEA-608 channels.
const cea708ChannelBase = 6

// captionDecoder decodes CEA-608 and CEA-708 captions carried in SEI
// messages.
type captionDecoder struct {
	cea608 map[int]*ccx.CEA608Decoder
	cea708 map[int]*ccx.CEA708Service
	dtvcc  []byte

	// CEA-608 control codes are sent twice; the repeat is dropped when it
	// follows within two frames.
	frames       int64
	lastCtrl     [2][2]byte
	lastWasCtrl  [2]bool
	lastCtrlSeen [2]int64
}

func newCaptionDecoder() *captionDecoder {
	c := &captionDecoder{}
	c.reset()
	return c
}

func (c *captionDecoder) reset() {
	c.cea608 = make(map[int]*ccx.CEA608Decoder, 4)
	for ch := 1; ch <= 4; ch++ {
		c.cea608[ch] = ccx.NewCEA608Decoder()
	}
	c.cea708 = make(map[int]*ccx.CEA708Service, 6)
	for svc := 1; svc <= 6; svc++ {
		c.cea708[svc] = ccx.NewCEA708Service()
	}
	c.dtvcc = c.dtvcc[:0]
	c.lastWasCtrl = [2]bool{}
}

// nextFrame advances the frame counter used for control code deduplication.
func (c *captionDecoder) nextFrame() {
	c.frames++
}

// decode processes one SEI NAL unit, header included, and returns the
// caption updates it completes.
func (c *captionDecoder) decode(sei []byte, pts int64) []*ccx.CaptionFrame {
	cd := ccx.ExtractCaptions(sei)
	if cd == nil {
		return nil
	}

	var out []*ccx.CaptionFrame
	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]
		f := pair.Field
		if f > 1 {
			continue
		}
		if cc1 >= 0x10 && cc1 <= 0x1F {
			cp := [2]byte{cc1, cc2}
			if c.lastWasCtrl[f] && c.lastCtrl[f] == cp && c.frames-c.lastCtrlSeen[f] <= 2 {
				c.lastWasCtrl[f] = false
				continue
			}
			c.lastCtrl[f] = cp
			c.lastWasCtrl[f] = true
			c.lastCtrlSeen[f] = c.frames
		} else {
			c.lastWasCtrl[f] = false
		}

		dec := c.cea608[pair.Channel]
		if dec == nil {
			continue
		}
		if text := dec.Decode(cc1, cc2); text != "" {
			out = append(out, &ccx.CaptionFrame{
				PTS:     pts,
				Text:    text,
				Channel: pair.Channel,
				Regions: dec.StyledRegions(),
			})
		}
	}

	for _, t := range cd.DTVCC {
		if t.Start {
			out = append(out, c.drainDTVCC(pts)...)
			c.dtvcc = c.dtvcc[:0]
		}
		c.dtvcc = append(c.dtvcc, t.Data[0], t.Data[1])
	}
	return out
}

func (c *captionDecoder) drainDTVCC(pts int64) []*ccx.CaptionFrame {
	if len(c.dtvcc) < 1 {
		return nil
	}
	size := ccx.DTVCCPacketSize(c.dtvcc[0])
	if len(c.dtvcc) < size {
		return nil
	}

	var out []*ccx.CaptionFrame
	for _, block := range ccx.ParseDTVCCPacket(c.dtvcc[:size]) {
		svc := c.cea708[block.ServiceNum]
		if svc == nil || !svc.ProcessBlock(block.Data) {
			continue
		}
		if text := svc.DisplayText(); text != "" {
			out = append(out, &ccx.CaptionFrame{
				PTS:     pts,
				Text:    text,
				Channel: block.ServiceNum + cea708ChannelBase,
				Regions: svc.StyledRegions(),
			})
		}
	}
	c.dtvcc = c.dtvcc[size:]
	return out
}
