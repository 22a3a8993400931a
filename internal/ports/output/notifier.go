package output

// ChangeNotifier defines the secondary port for directory change notifications.
type ChangeNotifier interface {
	// Subscribe starts watching dir for files ending in ext. The returned
	// channel receives a value after files are created or written; stop
	// releases the watch.
	Subscribe(dir, ext string) (changes <-chan struct{}, stop func(), err error)
}
