package netcode

// timeSyncWindow is the number of frames averaged when estimating frame
// advantage: half a second at 60 FPS.
const timeSyncWindow = 30

// timeSync tracks local and remote frame advantage over a sliding window so
// the session can recommend that the faster peer wait. Advisory only; it
// never touches simulation state.
type timeSync struct {
	local  [timeSyncWindow]int32
	remote [timeSyncWindow]int32
}

func (t *timeSync) advanceFrame(frame Frame, localAdv, remoteAdv int32) {
	if frame < 0 {
		return
	}
	idx := int(frame) % timeSyncWindow
	t.local[idx] = localAdv
	t.remote[idx] = remoteAdv
}

// averageFrameAdvantage meets the two peers in the middle: a positive result
// means the remote peer is ahead and we should consider slowing down.
func (t *timeSync) averageFrameAdvantage() int32 {
	var localSum, remoteSum int32
	for i := 0; i < timeSyncWindow; i++ {
		localSum += t.local[i]
		remoteSum += t.remote[i]
	}
	localAvg := float64(localSum) / timeSyncWindow
	remoteAvg := float64(remoteSum) / timeSyncWindow
	return int32((remoteAvg - localAvg) / 2)
}
