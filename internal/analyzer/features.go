package analyzer

// Levels summarizes a frequency frame as normalized band energies.
type Levels struct {
	Bass    float64
	Mid     float64
	Treble  float64
	Overall float64
}

// Levels computes band energies from a frame produced by FrequencyFrame.
func (n *Node) Levels(frame []byte) Levels {
	return BandLevels(frame, n.SampleRate(), n.fftSize)
}

// BandLevels averages the bytes of frame that fall in the bass (20-250 Hz),
// mid (250-2000 Hz) and treble (2-8 kHz) bands.
func BandLevels(frame []byte, sampleRate float64, fftSize int) Levels {
	if len(frame) == 0 || sampleRate <= 0 || fftSize <= 0 {
		return Levels{}
	}
	resolution := sampleRate / float64(fftSize)
	bass := bandEnergy(frame, resolution, 20, 250)
	mid := bandEnergy(frame, resolution, 250, 2000)
	treble := bandEnergy(frame, resolution, 2000, 8000)
	return Levels{
		Bass:    bass,
		Mid:     mid,
		Treble:  treble,
		Overall: average([]float64{bass, mid, treble}),
	}
}

func bandEnergy(frame []byte, resolution, minHz, maxHz float64) float64 {
	if minHz >= maxHz || resolution <= 0 {
		return 0
	}
	lo := int(minHz / resolution)
	hi := int(maxHz/resolution) + 1
	if hi > len(frame) {
		hi = len(frame)
	}
	if lo >= hi {
		return 0
	}
	sum := 0.0
	for _, v := range frame[lo:hi] {
		sum += float64(v)
	}
	return sum / float64(hi-lo) / 255.0
}

// Gate applies a noise floor so weak signals read as silence.
func Gate(l Levels, floor float64) Levels {
	if floor <= 0 {
		return l
	}
	gate := func(v float64) float64 {
		if v <= floor {
			return 0
		}
		return clamp((v-floor)/(1.0-floor), 0, 1)
	}
	l.Bass = gate(l.Bass)
	l.Mid = gate(l.Mid)
	l.Treble = gate(l.Treble)
	l.Overall = gate(l.Overall)
	return l
}
