/*
Package audiograph allows to build and render graphs of audio and MIDI
processors in real time.

Concept

The graph is driven by two kinds of threads:

    Render thread - the audio device callback, calls RenderNextBlock;
    Control thread - the UI or automation, edits topology.

The render thread never blocks, locks or allocates. The control thread
edits a private copy of the topology, compiles it into an immutable render
sequence and publishes the sequence with an atomic pointer swap. The
render thread picks it up at the next block boundary.

Nodes

Every node wraps a node.Processor. Processors are prepared when they are
added to the graph and whenever their layout changes. The graph always
contains four io nodes with fixed ids:

    AudioInput  - hardware input channels;
    AudioOutput - hardware output channels;
    MIDIInput   - MIDI events of the period;
    MIDIOutput  - MIDI events produced by the graph.

Editing

Single edits are available as Graph methods. Batches are applied with
Edit, which either publishes all changes at once or none of them:

    err := g.Edit(func(tx *audiograph.Tx) error {
        gain, err := tx.AddNode(dsp.NewGain(0.5))
        if err != nil {
            return err
        }
        return tx.Connect(audiograph.Channel(audiograph.AudioInput, 0, 0), audiograph.Channel(gain, 0, 0))
    })

Connections that would form a cycle without latency are rejected. A cycle
is allowed when it is closed with a feedback connection, which delivers the
previous block, or when it contains a node with latency.

Draining

Sequences and nodes replaced by an edit are retired and released only once
the render thread provably finished every block that could reference
them. Drain blocks until everything retired is released.

Faults

A processor that returns an error or panics never breaks the render
thread. Its outputs are silenced until it is reset with ResetNode. Faults
are polled with Faults.
*/
package audiograph
