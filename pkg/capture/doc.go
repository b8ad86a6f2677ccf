// Package capture implements the capture and sample drivers that sit
// between an application and a simulated peripheral.
//
// Both drivers follow the same call sequence:
//
//	d.Initialize(cb)
//	d.Configure(iface, ...)
//	d.SetBuffer(iface, buf, blockCount, blockSize)
//	d.StreamStart(iface, stream.ModeContinuous) // or Control for sensors
//	for {
//	    st, _ := d.GetStatus(iface)
//	    if st.Empty { ...wait... }
//	    frame, err := d.GetFrameBuffer(iface)
//	    ...
//	    d.ReleaseFrame(iface)
//	}
//	d.StreamStop(iface)
//	d.Uninitialize()
//
// Video has a camera input (In0) and a video output (Out0). Sensor has a
// receiver (RX) and a transmitter (TX). Each interface owns one
// stream.Stream fed or drained by one vsi.Peripheral.
package capture
