package refresh

import (
	"github.com/mutagen-io/vfsrefresh/pkg/vfs"
)

// Apply applies events to a tree, bringing its cached state in line with the
// state observed by the scan that produced them. It must be called from within
// a write action on the tree. Events referring to nodes that have since been
// deleted are ignored.
func Apply(tree *vfs.Tree, events []*Event) {
	for _, event := range events {
		switch event.Kind {
		case EventKindCreated:
			if event.Parent.IsValid() {
				tree.CreateChild(event.Parent, event.Child)
			}
		case EventKindDeleted:
			tree.Delete(event.Node)
		case EventKindContentChanged:
			if event.Node.IsValid() {
				attributes := event.Node.Attributes()
				attributes.ModificationTime = event.NewTimestamp
				attributes.Size = event.NewLength
				tree.UpdateContent(event.Node, attributes)
			}
		case EventKindPropertyChanged:
			if !event.Node.IsValid() {
				continue
			}
			switch event.Property {
			case PropertyName:
				tree.Rename(event.Node, event.NewValue.(string))
			case PropertyWritable:
				tree.SetWritable(event.Node, event.NewValue.(bool))
			case PropertyHidden:
				tree.SetHidden(event.Node, event.NewValue.(bool))
			case PropertySymbolicLinkTarget:
				tree.SetSymbolicLinkTarget(event.Node, event.NewValue.(string))
			default:
				panic("unhandled property")
			}
		default:
			panic("unhandled event kind")
		}
	}
}
