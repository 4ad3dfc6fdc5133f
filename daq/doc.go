/*Package daq is the generic subdevice engine shared by every acquisition board.

A board is represented by a Device, an ordered list of Subdevices.  Each
Subdevice describes its channels with a ChanDesc, executes one-shot
Instructions synchronously, and, when its chip supports it, runs triggered
streaming acquisitions described by a Command.  Samples produced by the
chip (from an interrupt handler or a polling loop) travel to the consumer
through a fixed-size ring Buffer.

Chip drivers never touch this package's state directly.  They implement the
small Chip contract (register read, register write, direction reconfigure)
and, for streaming, the Armer contract (arm, disarm), and feed samples with
Subdevice.Put and Subdevice.Notify.

Basic usage, with a driver registered under the name "8255":

 dev, err := daq.Attach("8255", daq.LinkDesc{Opts: []uint64{0x300}})
 if err != nil {
 	log.Fatal(err)
 }
 defer daq.Detach(dev)

 // set the low byte of the first chip, read back all 24 lines
 insn := daq.Instruction{Kind: daq.InsnBits, Data: []uint32{0xff, 0xaa}}
 err = dev.Do(0, &insn)
 fmt.Printf("%06x\n", insn.Data[1])

 // negotiate and start a streaming acquisition on the default read subdevice
 subd, err := dev.Subdevice(dev.IdxRead())
 cmd := daq.Command{Subdev: subd.Index(), Chans: []daq.ChanRef{subd.ChanDesc().Ref(0)}}
 cmd, err = daq.Negotiate(subd, cmd, 4)
 err = dev.Start(cmd)
 for {
 	if err := subd.Wait(ctx); err != nil {
 		break
 	}
 	buf, err := subd.Drain(4096)
 	if err == io.EOF {
 		break
 	}
 	...
 }

The producer side (Put, Notify) never blocks and never allocates.  The
consumer side (Drain, Wait) may block.  Instructions, validation, Start and
Cancel run in normal context only; callers keep at most one of them
outstanding per subdevice.
*/
package daq
