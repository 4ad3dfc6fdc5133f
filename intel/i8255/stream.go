package i8255

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/nasa-jpl/rtdaq/daq"
	"github.com/nasa-jpl/rtdaq/util"
)

// Arm makes the chip produce samples into s.  With PollHz set a poller is
// started; otherwise samples are taken on each call to Interrupt
func (c *Chip) Arm(s *daq.Subdevice, cmd daq.Command) error {
	c.stopPoller()
	c.irqMu.Lock()
	c.armed = s
	c.irqMu.Unlock()
	if c.PollHz <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})
	go c.poll(ctx, int(cmd.ScanBegin.Arg), c.pollDone)
	return nil
}

// Disarm stops the producer.  When it returns, no interrupt routine is
// running and none will touch the subdevice until the next Arm
func (c *Chip) Disarm() error {
	c.stopPoller()
	c.irqMu.Lock()
	c.armed = nil
	c.irqMu.Unlock()
	return nil
}

func (c *Chip) stopPoller() {
	if c.pollCancel != nil {
		c.pollCancel()
		<-c.pollDone
		c.pollCancel = nil
	}
}

// Interrupt is the interrupt routine: it samples ports A and B and hands the
// sample to the armed subdevice.  It does nothing when disarmed.  When the
// acquisition is over (stop count, overrun or failure) the chip disarms
// itself and Interrupt returns the reason
func (c *Chip) Interrupt() error {
	c.irqMu.Lock()
	defer c.irqMu.Unlock()
	s := c.armed
	if s == nil {
		return daq.ErrNotRunning
	}
	lo, err := c.ReadRegister(PortA)
	if err == nil {
		c.sample[0] = lo
		c.sample[1], err = c.ReadRegister(PortB)
	}
	if err != nil {
		s.Fail(err)
		c.armed = nil
		return err
	}
	if _, err := s.Put(c.sample[:]); err != nil {
		c.armed = nil
		return err
	}
	s.Notify(daq.EvtData)
	if !s.Running() {
		c.armed = nil
		return daq.ErrNotRunning
	}
	return nil
}

// poll emulates the external scan trigger.  line 0 fires on every tick,
// line n on a rising edge of port C line n-1
func (c *Chip) poll(ctx context.Context, line int, done chan struct{}) {
	defer close(done)
	lim := rate.NewLimiter(rate.Limit(c.PollHz), 1)
	var prev bool
	first := true
	for {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		if line > 0 {
			pc, err := c.ReadRegister(PortC)
			if err != nil {
				c.irqMu.Lock()
				if c.armed != nil {
					c.armed.Fail(err)
					c.armed = nil
				}
				c.irqMu.Unlock()
				daq.Logger().Error("8255 trigger poll failed", "err", err)
				return
			}
			level := util.GetBit(pc, uint(line-1))
			rising := level && !prev && !first
			prev, first = level, false
			if !rising {
				continue
			}
		}
		if err := c.Interrupt(); err != nil {
			if !errors.Is(err, daq.ErrNotRunning) {
				daq.Logger().Warn("8255 acquisition stopped", "err", err)
			}
			return
		}
	}
}
